package llm

import "strings"

// StripThinkingTags removes <think>...</think> blocks from LLM output.
// Some models (e.g. qwen3) wrap their reasoning in these tags.
func StripThinkingTags(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s, "</think>")
		if end == -1 {
			s = strings.TrimSpace(s[:start])
			break
		}
		s = s[:start] + s[end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// ExtractFencedBlock returns the contents of the first ```-fenced block,
// preferring a block tagged with the given language. Returns s unchanged
// when no fence is present. Judge and generator responses frequently wrap
// their payload in markdown fences.
func ExtractFencedBlock(s, lang string) string {
	if lang != "" {
		if i := strings.Index(s, "```"+lang); i != -1 {
			rest := s[i+len("```")+len(lang):]
			if j := strings.Index(rest, "```"); j != -1 {
				return strings.TrimSpace(rest[:j])
			}
		}
	}
	if i := strings.Index(s, "```"); i != -1 {
		rest := s[i+3:]
		// Skip an optional language tag on the opening fence line.
		if nl := strings.IndexByte(rest, '\n'); nl != -1 && nl < 20 && !strings.Contains(rest[:nl], " ") {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j != -1 {
			return strings.TrimSpace(rest[:j])
		}
	}
	return strings.TrimSpace(s)
}
