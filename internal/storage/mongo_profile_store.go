package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/netsync/internal/vec"
)

// mongoProfile документ коллекции profiles; _id: имя игрока
type mongoProfile struct {
	Username string     `bson:"_id"`
	Position [3]float64 `bson:"position"`
	Rotation [4]float64 `bson:"rotation"`
	Health   int32      `bson:"health"`
	Score    int64      `bson:"score"`
	SavedAt  time.Time  `bson:"saved_at"`
}

func toMongo(p Profile) mongoProfile {
	return mongoProfile{
		Username: p.Username,
		Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Rotation: p.Rotation.Components(),
		Health:   p.Health,
		Score:    int64(p.Score),
		SavedAt:  p.SavedAt.UTC(),
	}
}

func (m mongoProfile) profile() Profile {
	return Profile{
		Username: m.Username,
		Position: vec.Vec3{X: m.Position[0], Y: m.Position[1], Z: m.Position[2]},
		Rotation: vec.QuatFromComponents(m.Rotation),
		Health:   m.Health,
		Score:    uint32(m.Score),
		SavedAt:  m.SavedAt,
	}
}

// MongoProfileStore хранит профили в коллекции MongoDB
type MongoProfileStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoProfileStore подключается по uri (mongodb://host:27017) и проверяет соединение
func NewMongoProfileStore(ctx context.Context, uri, database string) (*MongoProfileStore, error) {
	if database == "" {
		database = "netsync"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoProfileStore{client: client, coll: client.Database(database).Collection("profiles")}, nil
}

func (s *MongoProfileStore) Save(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.Username}, toMongo(p), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo save %s: %w", p.Username, err)
	}
	return nil
}

func (s *MongoProfileStore) Load(ctx context.Context, username string) (Profile, bool, error) {
	var doc mongoProfile
	err := s.coll.FindOne(ctx, bson.M{"_id": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("mongo load %s: %w", username, err)
	}
	return doc.profile(), true, nil
}

func (s *MongoProfileStore) Delete(ctx context.Context, username string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": username})
	if err != nil {
		return fmt.Errorf("mongo delete %s: %w", username, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchSave одна неупорядоченная BulkWrite с upsert на каждый профиль
func (s *MongoProfileStore) BatchSave(ctx context.Context, profiles []Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	if err := validateAll(profiles); err != nil {
		return err
	}
	models := make([]mongo.WriteModel, 0, len(profiles))
	for _, p := range profiles {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": p.Username}).
			SetReplacement(toMongo(p)).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo batch save: %w", err)
	}
	return nil
}

func (s *MongoProfileStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
