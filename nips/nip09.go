// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP09Config struct {
		AllowDeletes bool `json:"allowDeletes"`
		// OwnerOnly limits deletion to events authored by the pubkey of the deletion request.
		OwnerOnly bool `json:"ownerOnly"`
	}
	nip09 struct {
		store database.EventStore
		pctx  *plugin.Context
	}
)

const (
	ReasonDeletesDisabled = "blocked:deletes-disabled"
)

func NIP09(store database.EventStore) *plugin.Plugin {
	p := &nip09{store: store}

	return &plugin.Plugin{
		ID:        "nip-09",
		NIP:       9,
		NewConfig: func() any { return &NIP09Config{AllowDeletes: true, OwnerOnly: true} },
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"allowDeletes": booleanSchema("Allow deletion requests", true),
				"ownerOnly":    booleanSchema("Only delete events of the requesting author", true),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip09) setup(_ context.Context, pctx *plugin.Context) error {
	if p.store == nil {
		return errors.New("event store is required")
	}
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip09) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil || ev.Kind != model.KindDeletion {
		return false, nil
	}
	cfg, err := plugin.Config[NIP09Config](ctx, p.pctx)
	if err != nil {
		return false, err
	}
	if !cfg.AllowDeletes {
		return true, conn.OK(ev.ID, false, ReasonDeletesDisabled)
	}
	if !ev.Verify() {
		return true, conn.OK(ev.ID, false, ReasonBadSignature)
	}
	ids := ev.TagValues(model.TagEvent)
	if cfg.OwnerOnly {
		if ids, err = p.ownedBy(ctx, ev.PubKey, ids); err != nil {
			return false, err
		}
	}
	if err = p.store.Delete(ctx, ids); err != nil {
		return false, errors.Wrapf(err, "failed to delete events referenced by %v", ev.ID)
	}

	return true, conn.OK(ev.ID, true, "")
}

func (p *nip09) ownedBy(ctx context.Context, pubkey string, ids []string) ([]string, error) {
	owned := make([]string, 0, len(ids))
	for _, id := range ids {
		target, err := p.store.Get(ctx, id)
		if errors.Is(err, model.ErrEventNotFound) {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "failed to get event %v", id)
		}
		if target.PubKey == pubkey {
			owned = append(owned, id)
		}
	}

	return owned, nil
}
