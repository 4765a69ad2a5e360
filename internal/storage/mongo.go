package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/louisfang/grouphub/config"
)

// InitMongo connects to MongoDB and verifies the connection with a ping.
// Multi-document transactions require the server to run as a replica set;
// this is the storage engine's concern, not checked here. Index creation is
// likewise assumed to be provisioned outside this library.
func InitMongo(cfg *config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}
