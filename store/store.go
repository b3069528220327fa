// Package store provides database access to all raw objects.
package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/volition/internal/profile"
)

var errVectorEmpty = errors.New("vector cannot be empty")

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	CreateHistoryRecord(ctx context.Context, create *HistoryRecord) (*HistoryRecord, error)
	ListHistoryRecords(ctx context.Context, find *FindHistoryRecord) ([]*HistoryRecord, error)
	AttachHistoryEmbedding(ctx context.Context, id string, embedding []float32) error
	FindHistoryRecordsWithoutEmbedding(ctx context.Context, find *FindHistoryRecordsWithoutEmbedding) ([]*HistoryRecord, error)
	SearchHistoryByVector(ctx context.Context, opts *HistoryVectorSearchOptions) ([]*HistoryRecordWithScore, error)

	GetPersonalityState(ctx context.Context) (*PersonalityState, error)
	UpsertPersonalityState(ctx context.Context, upsert *PersonalityState) (*PersonalityState, error)
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
