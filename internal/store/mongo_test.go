package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/ivlev/stopcast/internal/config"
)

func configStore(driver string) config.Store {
	return config.Store{Driver: driver}
}

// Требует запущенный MongoDB: STOPCAST_TEST_MONGO_URI=mongodb://localhost:27017
func TestMongo(t *testing.T) {
	uri := os.Getenv("STOPCAST_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STOPCAST_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	m, err := OpenMongo(ctx, uri, "stopcast_test_"+uuid.NewString()[:8])
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		m.coll.Database().Drop(ctx)
		m.Close(ctx)
	}()
	exercise(t, m)
}
