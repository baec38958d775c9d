// SPDX-License-Identifier: ice License 1.0

package database

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relay/database/memory"
	"github.com/ice-blockchain/relay/database/query"
	"github.com/ice-blockchain/relay/model"
)

type (
	// EventStore is the storage contract shared by every backend. Backends are safe for concurrent use.
	EventStore interface {
		io.Closer
		// Add upserts by id.
		Add(ctx context.Context, event *model.Event) error
		// Delete removes the given ids, absent ids are ignored.
		Delete(ctx context.Context, ids []string) error
		// Get returns model.ErrEventNotFound for unknown ids.
		Get(ctx context.Context, id string) (*model.Event, error)
		// All returns up to AllLimit events, newest first.
		All(ctx context.Context) ([]*model.Event, error)
		// Query runs every filter independently, newest first, applying the filter limit
		// (DefaultQueryLimit when unset) and concatenating the results without de-duplication.
		Query(ctx context.Context, filters model.Filters) ([]*model.Event, error)
		// Count sums per-filter match counts, explicit filter limits cap each count.
		Count(ctx context.Context, filters model.Filters) (int64, error)
	}
	Backend string
	Config  struct {
		Backend Backend `yaml:"backend" mapstructure:"backend"`
		Target  string  `yaml:"target" mapstructure:"target"`
	}
)

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

const (
	AllLimit          = memory.AllLimit
	DefaultQueryLimit = memory.DefaultQueryLimit
)

var ErrUnknownBackend = errors.New("unknown event store backend")

var (
	_ EventStore = (*memory.Store)(nil)
	_ EventStore = (*query.Store)(nil)
)

// Open builds the configured backend. The result is meant to be injected into every component that needs it.
func Open(cfg *Config) (EventStore, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrUnknownBackend, "no configuration")
	}
	switch cfg.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendSQLite, "":
		store, err := query.New(cfg.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open sqlite event store at `%v`", cfg.Target)
		}

		return store, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}
