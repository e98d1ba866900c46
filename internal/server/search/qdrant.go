package search

import (
	"context"
	"fmt"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	payloadOrgID = "org_id"
	payloadTitle = "title"
	payloadBody  = "body"

	vectorSize = 384
)

// pointsClient is the slice of *qdrant.Client the service uses; tests
// substitute a fake.
type pointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Config for the Qdrant-backed index.
type Config struct {
	Host       string
	Port       int
	Collection string
}

// QdrantIndex implements Index against a Qdrant collection with two named
// vectors and keyword/full-text payload indexes.
type QdrantIndex struct {
	client     pointsClient
	collection string
	logger     logging.Logger
}

// NewQdrantIndex dials Qdrant over gRPC.
func NewQdrantIndex(cfg Config, logger logging.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, collection: cfg.Collection, logger: logger}, nil
}

func (s *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		s.logger.Info(ctx, "search collection already exists", "collection", s.collection)
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			FieldTitleVector: {Size: vectorSize, Distance: qdrant.Distance_Cosine},
			FieldBodyVector:  {Size: vectorSize, Distance: qdrant.Distance_Cosine},
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	// org_id gets a keyword index for the tenant filter; title/body get
	// full-text indexes for keyword queries.
	indexes := []struct {
		field     string
		fieldType qdrant.FieldType
	}{
		{payloadOrgID, qdrant.FieldType_FieldTypeKeyword},
		{payloadTitle, qdrant.FieldType_FieldTypeText},
		{payloadBody, qdrant.FieldType_FieldTypeText},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      idx.field,
			FieldType:      idx.fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("indexing payload field %s: %w", idx.field, err)
		}
	}
	s.logger.Info(ctx, "search collection created", "collection", s.collection)
	return nil
}

func (s *QdrantIndex) IndexNote(ctx context.Context, noteID int64, org, title, body string, vectors map[string]cryptox.CipherVector) error {
	named := make(map[string]*qdrant.Vector, len(vectors))
	for field, v := range vectors {
		named[field] = qdrant.NewVector(v...)
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(noteID)),
		Vectors: qdrant.NewVectorsMap(named),
		Payload: qdrant.NewValueMap(map[string]any{
			payloadOrgID: org,
			payloadTitle: title,
			payloadBody:  body,
		}),
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("indexing note %d: %w", noteID, err)
	}
	return nil
}

// ReindexNote deletes then re-inserts. A failure between the two calls
// leaves the note unsearchable until the next successful reindex; callers
// accept that window. The delete does not check tenant ownership, so this
// must run after the store-level update that does.
func (s *QdrantIndex) ReindexNote(ctx context.Context, noteID int64, org, title, body string, vectors map[string]cryptox.CipherVector) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(noteID))),
	})
	if err != nil {
		return fmt.Errorf("deleting note %d from index: %w", noteID, err)
	}
	return s.IndexNote(ctx, noteID, org, title, body, vectors)
}

// tenantFilter is the mandatory org filter attached to every query,
// independent of the store's own org_id predicates.
func tenantFilter(org string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeyword(payloadOrgID, org)},
	}
}

func (s *QdrantIndex) QueryNotes(ctx context.Context, org string, q Query) ([]int64, error) {
	var req *qdrant.QueryPoints
	switch query := q.(type) {
	case Keyword:
		req = s.keywordQuery(org, query)
	case Knn:
		req = s.knnQuery(org, query)
	default:
		return nil, fmt.Errorf("unsupported query type %T", q)
	}

	hits, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	ids := make([]int64, 0, len(hits))
	for _, hit := range hits {
		if hit.Id == nil {
			continue
		}
		ids = append(ids, int64(hit.Id.GetNum()))
	}
	return ids, nil
}

// keywordQuery builds: tenant filter AND (title match OR body match).
func (s *QdrantIndex) keywordQuery(org string, q Keyword) *qdrant.QueryPoints {
	var should []*qdrant.Condition
	if q.Title != nil {
		should = append(should, qdrant.NewMatchText(payloadTitle, *q.Title))
	}
	if q.Body != nil {
		should = append(should, qdrant.NewMatchText(payloadBody, *q.Body))
	}

	filter := tenantFilter(org)
	if len(should) > 0 {
		filter.Must = append(filter.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{Should: should},
			},
		})
	}

	return &qdrant.QueryPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(keywordLimit)),
	}
}

// knnQuery builds one nearest-neighbor prefetch per vector field, each
// under the tenant filter, fused into a single ranked result.
func (s *QdrantIndex) knnQuery(org string, q Knn) *qdrant.QueryPoints {
	filter := tenantFilter(org)

	prefetch := make([]*qdrant.PrefetchQuery, 0, len(q.Vectors))
	for _, field := range []string{FieldTitleVector, FieldBodyVector} {
		vector, ok := q.Vectors[field]
		if !ok {
			continue
		}
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQuery(vector...),
			Using:  qdrant.PtrOf(field),
			Filter: filter,
			Limit:  qdrant.PtrOf(uint64(knnCandidates)),
		})
	}

	return &qdrant.QueryPoints{
		CollectionName: s.collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(knnLimit)),
	}
}
