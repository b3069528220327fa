// Package db provides the database driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/volition/internal/profile"
	"github.com/hrygo/volition/store"
	"github.com/hrygo/volition/store/db/postgres"
	"github.com/hrygo/volition/store/db/sqlite"
)

// NewDBDriver creates the database driver named by the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
