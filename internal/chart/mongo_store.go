package chart

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediastream/discoveryservice/internal/domain"
)

const defaultRunsCollection = "chart_runs"

type MongoStore struct {
	collection *mongo.Collection
}

type runDoc struct {
	ID         string                         `bson:"_id"`
	Trigger    string                         `bson:"trigger"`
	StartedAt  time.Time                      `bson:"startedAt"`
	FinishedAt time.Time                      `bson:"finishedAt"`
	Dispatched []string                       `bson:"dispatched"`
	Statuses   map[string]domain.SourceStatus `bson:"perSourceStatus"`
	Results    []domain.CanonicalResult       `bson:"results"`
	Total      int                            `bson:"total"`
}

func NewMongoStore(client *mongo.Client, dbName, collectionName string) *MongoStore {
	if collectionName == "" {
		collectionName = defaultRunsCollection
	}
	return &MongoStore{collection: client.Database(dbName).Collection(collectionName)}
}

// Connect dials MongoDB. Extra options carry the otel command monitor.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "startedAt", Value: -1}}},
		{Keys: bson.D{{Key: "trigger", Value: 1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (s *MongoStore) Save(ctx context.Context, run domain.ChartRun) error {
	_, err := s.collection.InsertOne(ctx, toRunDoc(run))
	return err
}

func (s *MongoStore) Latest(ctx context.Context) (domain.ChartRun, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	var doc runDoc
	if err := s.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ChartRun{}, ErrNoRuns
		}
		return domain.ChartRun{}, err
	}
	return fromRunDoc(doc), nil
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	return s.collection.CountDocuments(ctx, bson.M{})
}

func toRunDoc(run domain.ChartRun) runDoc {
	return runDoc{
		ID:         run.ID,
		Trigger:    run.Trigger,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Dispatched: run.Dispatched,
		Statuses:   run.PerSourceStatus,
		Results:    run.Results,
		Total:      run.Total,
	}
}

func fromRunDoc(doc runDoc) domain.ChartRun {
	return domain.ChartRun{
		ID:              doc.ID,
		Trigger:         doc.Trigger,
		StartedAt:       doc.StartedAt,
		FinishedAt:      doc.FinishedAt,
		Dispatched:      doc.Dispatched,
		PerSourceStatus: doc.Statuses,
		Results:         doc.Results,
		Total:           doc.Total,
	}
}
