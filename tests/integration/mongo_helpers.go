//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BradenHooton/medauth/internal/config"
	"github.com/BradenHooton/medauth/internal/database"
)

// TestMongo manages the MongoDB testcontainer backing the document store suite
type TestMongo struct {
	Container *mongodb.MongoDBContainer
	URI       string
	DB        *database.MongoDB
}

var (
	testMongo     *TestMongo
	testMongoErr  error
	testMongoOnce sync.Once
)

// SetupTestMongo starts a MongoDB testcontainer and connects to it
func SetupTestMongo(ctx context.Context) (*TestMongo, error) {
	container, err := mongodb.RunContainer(ctx, testcontainers.WithImage("mongo:7"))
	if err != nil {
		return nil, fmt.Errorf("failed to start mongo container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := database.NewMongoConnection(&config.MongoConfig{URI: uri, Database: "medauth"}, discardLogger())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &TestMongo{Container: container, URI: uri, DB: db}, nil
}

// sharedMongo starts the container on first use so the Postgres suite does
// not pay for it
func sharedMongo(ctx context.Context) (*TestMongo, error) {
	testMongoOnce.Do(func() {
		testMongo, testMongoErr = SetupTestMongo(ctx)
	})
	return testMongo, testMongoErr
}

// Teardown disconnects the client and stops the container
func (m *TestMongo) Teardown(ctx context.Context) error {
	if m.DB != nil {
		_ = m.DB.Close(ctx)
	}
	if m.Container != nil {
		return m.Container.Terminate(ctx)
	}
	return nil
}

// CleanupCollections empties the accounts collection for test isolation
func (m *TestMongo) CleanupCollections(ctx context.Context) error {
	if _, err := m.DB.Database.Collection("accounts").DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}
	return nil
}
