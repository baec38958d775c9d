// SPDX-License-Identifier: ice License 1.0

package database

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/relay/model"
)

func TestPropertyQueryPrefixLaw(t *testing.T) {
	t.Parallel()

	helperForEachBackend(t, func(t *testing.T, store EventStore) {
		ctx := context.Background()
		stored := make([]*model.Event, 0, 64)
		for range 64 {
			ev := helperNewEvent(1, 1)
			require.NoError(t, store.Add(ctx, ev))
			stored = append(stored, ev)
		}

		parameters := gopter.DefaultTestParameters()
		parameters.MinSuccessfulTests = 40
		properties := gopter.NewProperties(parameters)
		properties.Property("ids filter returns exactly the events with that prefix", prop.ForAll(
			func(idx, prefixLen int) bool {
				prefix := stored[idx%len(stored)].ID[:prefixLen]
				events, err := store.Query(ctx, model.Filters{{IDs: []string{prefix}}})
				if err != nil {
					return false
				}
				var expected []string
				for _, ev := range stored {
					if strings.HasPrefix(ev.ID, prefix) {
						expected = append(expected, ev.ID)
					}
				}
				got := helperIDs(events)
				slices.Sort(expected)
				slices.Sort(got)

				return slices.Equal(expected, got)
			},
			gen.IntRange(0, 1000),
			gen.IntRange(1, 64),
		))
		properties.TestingRun(t)
	})
}

func TestPropertyAddIdempotent(t *testing.T) {
	t.Parallel()

	helperForEachBackend(t, func(t *testing.T, store EventStore) {
		ctx := context.Background()
		parameters := gopter.DefaultTestParameters()
		parameters.MinSuccessfulTests = 30
		properties := gopter.NewProperties(parameters)
		properties.Property("adding the same event twice is observably the same as once", prop.ForAll(
			func(kind int, createdAt int64, tagValue string) bool {
				ev := helperNewEvent(kind, createdAt, model.Tag{"t", tagValue})
				if store.Add(ctx, ev) != nil {
					return false
				}
				once, err := store.Query(ctx, model.Filters{{IDs: []string{ev.ID}}, {Tags: model.TagMap{"t": []string{tagValue}}}})
				if err != nil || store.Add(ctx, ev) != nil {
					return false
				}
				twice, err := store.Query(ctx, model.Filters{{IDs: []string{ev.ID}}, {Tags: model.TagMap{"t": []string{tagValue}}}})

				return err == nil && slices.Equal(helperIDs(once), helperIDs(twice))
			},
			gen.IntRange(0, 40000),
			gen.Int64Range(0, 2_000_000_000),
			gen.AlphaString(),
		))
		properties.TestingRun(t)
	})
}
