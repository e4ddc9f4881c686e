package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onchain-casino-settlement/internal/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const mongoAppName = "settlement_processor"

// MongoDB holds the audit mirror connection. Settlement events are written
// with majority acknowledgement so an audited event survives a primary failover.
type MongoDB struct {
	logger      *slog.Logger
	client      *mongo.Client
	database    *mongo.Database
	pingTimeout time.Duration
}

func NewMongoDB(ctx context.Context, logger *slog.Logger, cfg *config.MongoDBConfig) (*MongoDB, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(mongoAppName).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := newMongoDB(logger, client, client.Database(cfg.Database), cfg.Timeout)
	if err := db.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	db.logger.Info("Connected to MongoDB")
	return db, nil
}

func newMongoDB(logger *slog.Logger, client *mongo.Client, database *mongo.Database, pingTimeout time.Duration) *MongoDB {
	return &MongoDB{
		logger:      logger.With("component", "mongodb", "database", database.Name()),
		client:      client,
		database:    database,
		pingTimeout: pingTimeout,
	}
}

func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Ping checks the primary is reachable, bounded by the configured timeout
func (m *MongoDB) Ping(ctx context.Context) error {
	if m.pingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.pingTimeout)
		defer cancel()
	}
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	m.logger.Info("Closed MongoDB connection")
	return nil
}
