// Package storage provides MongoDB persistence for alerts and their trigger
// history.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/scott-c-hughes/polymarket-terminal/internal/alerts"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "polyterminal"

// Store provides access to the MongoDB collections.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	alerts   *mongo.Collection
	triggers *mongo.Collection
}

var _ alerts.Store = (*Store)(nil)

// NewStore creates a new storage connection.
func NewStore(ctx context.Context, uri, dbName string) (*Store, error) {
	if dbName == "" {
		dbName = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	log.Info().Str("db", dbName).Msg("Connected to MongoDB")

	store := &Store{
		client:   client,
		db:       db,
		alerts:   db.Collection("alerts"),
		triggers: db.Collection("alert_triggers"),
	}

	if err := store.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create some indexes")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) createIndexes(ctx context.Context) error {
	alertIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "alert_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "region", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}
	if _, err := s.alerts.Indexes().CreateMany(ctx, alertIndexes); err != nil {
		return fmt.Errorf("failed to create alert indexes: %w", err)
	}

	triggerIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "alert_id", Value: 1}, {Key: "triggered_at", Value: -1}}},
		{Keys: bson.D{{Key: "triggered_at", Value: -1}}},
	}
	if _, err := s.triggers.Indexes().CreateMany(ctx, triggerIndexes); err != nil {
		return fmt.Errorf("failed to create trigger indexes: %w", err)
	}

	return nil
}

// ============================================================================
// ALERT OPERATIONS
// ============================================================================

// SaveAlert inserts or replaces an alert.
func (s *Store) SaveAlert(ctx context.Context, alert *models.Alert) error {
	filter := bson.M{"alert_id": alert.ID}
	update := bson.M{"$set": alert}
	opts := options.Update().SetUpsert(true)

	_, err := s.alerts.UpdateOne(ctx, filter, update, opts)
	return err
}

// ListAlerts returns every alert, oldest first.
func (s *Store) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := s.alerts.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.Alert
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAlert removes an alert. Its trigger history is kept.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	result, err := s.alerts.DeleteOne(ctx, bson.M{"alert_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// ============================================================================
// TRIGGER OPERATIONS
// ============================================================================

// SaveTriggers appends fired triggers to the history.
func (s *Store) SaveTriggers(ctx context.Context, triggers []models.AlertTrigger) error {
	if len(triggers) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(triggers))
	for _, t := range triggers {
		docs = append(docs, t)
	}
	_, err := s.triggers.InsertMany(ctx, docs)
	return err
}

// RecentTriggers returns the latest triggers, newest first.
func (s *Store) RecentTriggers(ctx context.Context, limit int) ([]models.AlertTrigger, error) {
	opts := options.Find().SetSort(bson.D{{Key: "triggered_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.triggers.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.AlertTrigger
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
