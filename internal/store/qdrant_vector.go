package store

import (
	"context"
	"sort"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// QdrantVector is the qdrant-backed vector index. Hybrid search fans out to
// 2k candidates on the semantic branch and re-scores lexically client-side.
type QdrantVector struct {
	client     *qdrant.Client
	collection string
	dim        uint64
	logger     *logging.Logger
}

// NewQdrantVector connects to qdrant over gRPC.
func NewQdrantVector(ctx context.Context, cfg config.VectorConfig, logger *logging.Logger) (*QdrantVector, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, err, "creating qdrant client")
	}

	v := &QdrantVector{
		client:     client,
		collection: cfg.Collection,
		dim:        cfg.VectorSize,
		logger:     logger,
	}

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fault.Wrap(fault.UpstreamError, err, "qdrant health check failed")
	}

	logger.Info(ctx, "qdrant connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection))
	return v, nil
}

func (v *QdrantVector) EnsureIndex(ctx context.Context, dim uint64) error {
	exists, err := v.client.CollectionExists(ctx, v.collection)
	if err != nil {
		return fault.Wrap(fault.UpstreamError, err, "checking collection")
	}
	if exists {
		return nil
	}
	if dim == 0 {
		dim = v.dim
	}
	err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fault.Wrap(fault.UpstreamError, err, "creating collection")
	}
	return nil
}

func (v *QdrantVector) Upsert(ctx context.Context, scope tenancy.Scope, docs []Document) error {
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := map[string]any{
			"tenant":  scope.TenantID,
			"title":   d.Title,
			"source":  d.Source,
			"chunk":   d.Chunk,
			"content": d.Content,
		}
		if d.OntologyClass != "" {
			payload["ontologyClass"] = d.OntologyClass
		}
		if len(d.Tags) > 0 {
			tags := make([]any, len(d.Tags))
			for i, t := range d.Tags {
				tags[i] = t
			}
			payload["tags"] = tags
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(d.ID),
			Vectors: qdrant.NewVectors(d.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: v.collection,
		Points:         points,
	})
	if err != nil {
		return fault.Wrap(fault.UpstreamError, err, "upserting documents")
	}
	return nil
}

func (v *QdrantVector) SearchHybrid(ctx context.Context, scope tenancy.Scope, q VectorQuery) ([]Hit, error) {
	k := q.K
	if k <= 0 {
		k = 10
	}

	filter := v.buildFilter(scope, q)

	// Text-only searches scroll lexical candidates; anything with a vector
	// goes through the semantic branch. Hybrid widens the semantic fan-out
	// to 2k, then lexical re-scoring narrows back to k.
	if len(q.Vector) == 0 {
		return v.searchLexical(ctx, q, filter, k)
	}

	limit := uint64(k)
	if q.Text != "" {
		limit = uint64(2 * k)
	}
	results, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, err, "querying vector index")
	}

	hits := make([]Hit, 0, len(results))
	for _, p := range results {
		hit := hitFromPayload(p.Id, p.Payload)
		hit.Score = float64(p.Score)
		if q.Text != "" {
			hit.Score = (hit.Score + lexicalScore(q.Text, hit.Document)) / 2
		}
		hits = append(hits, hit)
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *QdrantVector) searchLexical(ctx context.Context, q VectorQuery, filter *qdrant.Filter, k int) ([]Hit, error) {
	fanout := uint32(2 * k)
	points, err := v.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: v.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(fanout),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, err, "scrolling lexical candidates")
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hit := hitFromPayload(p.Id, p.Payload)
		hit.Score = lexicalScore(q.Text, hit.Document)
		if hit.Score > 0 {
			hits = append(hits, hit)
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// buildFilter always includes the tenant equality condition; caller filters
// are appended, never substituted.
func (v *QdrantVector) buildFilter(scope tenancy.Scope, q VectorQuery) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant", scope.TenantID),
	}
	if q.OntologyClass != "" {
		must = append(must, qdrant.NewMatch("ontologyClass", q.OntologyClass))
	}
	for _, f := range q.Filters {
		must = append(must, qdrant.NewMatch(f.Field, f.Value))
	}
	return &qdrant.Filter{Must: must}
}

func (v *QdrantVector) Ping(ctx context.Context) error {
	if _, err := v.client.HealthCheck(ctx); err != nil {
		return fault.Wrap(fault.UpstreamError, err, "qdrant unreachable")
	}
	return nil
}

// Close releases the gRPC connection.
func (v *QdrantVector) Close() error {
	return v.client.Close()
}

func hitFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) Hit {
	doc := Document{ID: pointIDString(id)}
	doc.Title = payloadString(payload, "title")
	doc.Source = payloadString(payload, "source")
	doc.Chunk = payloadString(payload, "chunk")
	doc.Content = payloadString(payload, "content")
	doc.OntologyClass = payloadString(payload, "ontologyClass")
	if tags, ok := payload["tags"]; ok {
		if list := tags.GetListValue(); list != nil {
			for _, t := range list.Values {
				if s := t.GetStringValue(); s != "" {
					doc.Tags = append(doc.Tags, s)
				}
			}
		}
	}
	return Hit{Document: doc}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return ""
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
