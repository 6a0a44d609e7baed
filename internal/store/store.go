// Package store persists scenario records and their video state.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ivlev/stopcast/internal/config"
	"github.com/ivlev/stopcast/internal/scenario"
)

var ErrNotFound = errors.New("scenario not found")

// opTimeout bounds a single store round trip.
const opTimeout = 2 * time.Second

type Store interface {
	Get(ctx context.Context, id string) (*scenario.Record, error)
	List(ctx context.Context) ([]*scenario.Record, error)
	Save(ctx context.Context, rec *scenario.Record) error
	// UpdateStatus changes only the video state; ErrNotFound when the record is gone.
	UpdateStatus(ctx context.Context, id string, status scenario.Status, videoPath string) error
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// Open connects the store selected in cfg.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "mongo":
		return OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// sortRecords orders newest first, ties by id.
func sortRecords(recs []*scenario.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].Scenario.ID < recs[j].Scenario.ID
	})
}

func clone(rec *scenario.Record) *scenario.Record {
	c := *rec
	c.Scenario.Stops = append([]scenario.Stop(nil), rec.Scenario.Stops...)
	c.Scenario.Emergencies = append([]scenario.Emergency(nil), rec.Scenario.Emergencies...)
	return &c
}
