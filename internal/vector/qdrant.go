package vector

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// payloadText is the payload key holding the snippet body; every other key
// is treated as string metadata.
const payloadText = "text"

// QdrantIndex is the Qdrant-backed lemma index. It creates its collection
// lazily on first upsert, sized to the embedding model actually in use, so
// switching embed models only needs a new collection name.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string

	mu      sync.Mutex
	created bool
}

// NewQdrant connects to a Qdrant instance. The collection does not need to
// exist yet.
func NewQdrant(ctx context.Context, host string, port int, collection string) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// ensureCollection creates the collection for cosine search over dim-sized
// vectors. Racing creators are fine: AlreadyExists is success.
func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.created {
		return nil
	}

	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create collection %q: %w", q.collection, err)
	}
	q.created = true
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(docs[0].Vector)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		payload := make(map[string]*pb.Value, len(d.Metadata)+1)
		payload[payloadText] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: d.Content}}
		for k, v := range d.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Nothing indexed yet; an empty index is not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("search %q: %w", q.collection, err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		r := SearchResult{
			ID:       pt.Id.GetUuid(),
			Score:    pt.Score,
			Metadata: make(map[string]string, len(pt.Payload)),
		}
		for k, v := range pt.Payload {
			if k == payloadText {
				r.Content = v.GetStringValue()
				continue
			}
			r.Metadata[k] = v.GetStringValue()
		}
		results[i] = r
	}
	return results, nil
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}
