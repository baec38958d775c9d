// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP45Config struct {
		Enabled bool `json:"enabled"`
	}
	nip45 struct {
		store database.EventStore
		pctx  *plugin.Context
	}
)

const (
	ReasonCountDisabled = "restricted:count-disabled"
)

// NIP45 answers COUNT with the number of stored events matching the filters.
func NIP45(store database.EventStore) *plugin.Plugin {
	p := &nip45{store: store}

	return &plugin.Plugin{
		ID:        "nip-45",
		NIP:       45,
		NewConfig: func() any { return &NIP45Config{Enabled: true} },
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled": booleanSchema("Answer COUNT requests", true),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip45) setup(_ context.Context, pctx *plugin.Context) error {
	if p.store == nil {
		return errors.New("event store is required")
	}
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip45) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	req, ok := msg.(*model.CountMessage)
	if !ok {
		return false, nil
	}
	cfg, err := plugin.Config[NIP45Config](ctx, p.pctx)
	if err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return true, conn.Send(&nostr.ClosedEnvelope{SubscriptionID: req.SubscriptionID, Reason: ReasonCountDisabled})
	}
	filters := req.Filters
	if len(filters) == 0 {
		filters = model.Filters{{}}
	}
	count, err := p.store.Count(ctx, filters)
	if err != nil {
		return false, errors.Wrapf(err, "failed to count events for %v", req.SubscriptionID)
	}

	return true, conn.Send(&nostr.CountEnvelope{SubscriptionID: req.SubscriptionID, Count: &count})
}
