// SPDX-License-Identifier: ice License 1.0

package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ice-blockchain/relay/model"
)

const (
	AllLimit          = 1000
	DefaultQueryLimit = 500
)

type (
	Store struct {
		mx     sync.RWMutex
		events map[string]*model.Event
	}
)

func New() *Store {
	return &Store{events: make(map[string]*model.Event)}
}

func (s *Store) Add(_ context.Context, event *model.Event) error {
	ev := clone(event)

	s.mx.Lock()
	s.events[ev.ID] = ev
	s.mx.Unlock()

	return nil
}

func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mx.Lock()
	for _, id := range ids {
		delete(s.events, id)
	}
	s.mx.Unlock()

	return nil
}

func (s *Store) Get(_ context.Context, id string) (*model.Event, error) {
	s.mx.RLock()
	ev, found := s.events[id]
	s.mx.RUnlock()
	if !found {
		return nil, model.ErrEventNotFound
	}

	return clone(ev), nil
}

func (s *Store) All(ctx context.Context) ([]*model.Event, error) {
	return s.selectMatching(ctx, nil, AllLimit)
}

func (s *Store) Query(ctx context.Context, filters model.Filters) ([]*model.Event, error) {
	var result []*model.Event
	for i := range filters {
		events, err := s.selectMatching(ctx, &filters[i], model.EffectiveLimit(&filters[i], DefaultQueryLimit))
		if err != nil {
			return nil, err
		}
		result = append(result, events...)
	}

	return result, nil
}

func (s *Store) Count(ctx context.Context, filters model.Filters) (int64, error) {
	var total int64
	for i := range filters {
		events, err := s.selectMatching(ctx, &filters[i], model.EffectiveLimit(&filters[i], -1))
		if err != nil {
			return 0, err
		}
		total += int64(len(events))
	}

	return total, nil
}

func (*Store) Close() error {
	return nil
}

// selectMatching returns clones ordered by created_at desc, id asc. Negative limit means unbounded.
func (s *Store) selectMatching(ctx context.Context, filter *model.Filter, limit int) ([]*model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // Context errors are returned as is.
	}

	s.mx.RLock()
	matched := make([]*model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if filter == nil || model.Matches(filter, ev) {
			matched = append(matched, ev)
		}
	}
	s.mx.RUnlock()

	slices.SortFunc(matched, compareRecency)
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	for i := range matched {
		matched[i] = clone(matched[i])
	}

	return matched, nil
}

func compareRecency(a, b *model.Event) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}

func clone(ev *model.Event) *model.Event {
	cp := *ev
	if ev.Tags != nil {
		cp.Tags = make(model.Tags, len(ev.Tags))
		for i := range ev.Tags {
			cp.Tags[i] = slices.Clone(ev.Tags[i])
		}
	}

	return &cp
}
