package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/xhad/jurisrag/internal/models"
)

const (
	qdrantIDKey      = "vector_id"
	qdrantPayloadKey = "payload"
)

// pointNamespace derives stable Qdrant point UUIDs from vector ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("jurisrag"))

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorDim  int
}

// QdrantStore keeps vectors in a Qdrant collection. Vector ids are kept in
// the payload because Qdrant point ids must be UUIDs or integers.
type QdrantStore struct {
	config QdrantConfig
	client *qdrant.Client
}

func NewQdrantStore(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	if config.Port == 0 {
		config.Port = 6334
	}
	if config.Collection == "" {
		config.Collection = "rag_vectors"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	s := &QdrantStore{config: config, client: client}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorDim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		points[i] = &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: toQdrantPayload(rec),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toQdrantFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	matches := make([]models.Match, 0, len(res))
	for _, point := range res {
		matches = append(matches, fromScoredPoint(point))
	}
	return matches, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting points from collection %s: %w", s.config.Collection, err)
	}
	return nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return ErrEmptyFilter
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: toQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting points by filter from collection %s: %w", s.config.Collection, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointID(vectorID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(vectorID)).String())
}

func toQdrantPayload(rec models.VectorRecord) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(rec.Metadata)+2)
	for k, v := range rec.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
		}
	}
	payload[qdrantIDKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.ID}}
	payload[qdrantPayloadKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.Payload}}
	return payload
}

func fromScoredPoint(point *qdrant.ScoredPoint) models.Match {
	m := models.Match{Score: point.GetScore(), Metadata: models.Metadata{}}
	for k, v := range point.GetPayload() {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case qdrantIDKey:
				m.ID = val.StringValue
			case qdrantPayloadKey:
				m.Payload = val.StringValue
			default:
				m.Metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			m.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			m.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			m.Metadata[k] = val.BoolValue
		}
	}
	return m
}

func toQdrantFilter(filter Filter) *qdrant.Filter {
	if filter.Empty() {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filter.Must))
	for _, c := range filter.Must {
		match := &qdrant.Match{}
		if len(c.Values) == 1 {
			match.MatchValue = &qdrant.Match_Keyword{Keyword: c.Values[0]}
		} else {
			match.MatchValue = &qdrant.Match_Keywords{
				Keywords: &qdrant.RepeatedStrings{Strings: c.Values},
			}
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: c.Field, Match: match},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}
