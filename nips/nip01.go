// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP01Config struct {
		// AllowKinds restricts accepted kinds when not empty.
		AllowKinds        []int    `json:"allowKinds"`
		BlockPubkeys      []string `json:"blockPubkeys"`
		MaxEventSizeBytes int      `json:"maxEventSizeBytes"`
	}
	nip01 struct {
		store database.EventStore
		pctx  *plugin.Context
	}
)

const (
	ReasonBlockedPubkey = "blocked:pubkey"
	ReasonBlockedKind   = "blocked:kind"
	ReasonBlockedSize   = "blocked:size"
	ReasonIDMismatch    = "invalid:id-mismatch"
	ReasonBadSignature  = "invalid:bad-sig"
	ReasonClosedByUser  = "closed by client"
)

// NIP01 accepts and stores events, answers REQ from the store and acknowledges CLOSE.
func NIP01(store database.EventStore) *plugin.Plugin {
	p := &nip01{store: store}

	return &plugin.Plugin{
		ID:  "nip-01",
		NIP: 1,
		NewConfig: func() any {
			return &NIP01Config{MaxEventSizeBytes: 100_000, BlockPubkeys: []string{}}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"maxEventSizeBytes": map[string]any{
					"type":        "integer",
					"title":       "Max event size (bytes)",
					"default":     100_000,
					"minimum":     1,
					"description": "Maximum size of a serialized event.",
				},
				"allowKinds": map[string]any{
					"type":        []any{"array", "null"},
					"title":       "Allowed event kinds",
					"items":       map[string]any{"type": "integer"},
					"description": "Only these kinds are accepted. Empty or null accepts every kind.",
				},
				"blockPubkeys": stringArraySchema("Blocked public keys", "Hex public keys that may not publish."),
			},
			"required": []any{"maxEventSizeBytes"},
		},
		Setup: p.setup,
	}
}

func (p *nip01) setup(_ context.Context, pctx *plugin.Context) error {
	if p.store == nil {
		return errors.New("event store is required")
	}
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip01) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	switch m := msg.(type) {
	case *model.EventMessage:
		return true, p.accept(ctx, conn, m.Event)
	case *model.ReqMessage:
		return true, p.query(ctx, conn, m)
	case *model.CloseMessage:
		return true, conn.Send(&nostr.ClosedEnvelope{SubscriptionID: m.SubscriptionID, Reason: ReasonClosedByUser})
	default:
		return false, nil
	}
}

func (p *nip01) accept(ctx context.Context, conn *plugin.Connection, ev *model.Event) error {
	cfg, err := plugin.Config[NIP01Config](ctx, p.pctx)
	if err != nil {
		return err
	}
	switch {
	case slices.Contains(cfg.BlockPubkeys, ev.PubKey):
		return conn.OK(ev.ID, false, ReasonBlockedPubkey)
	case len(cfg.AllowKinds) > 0 && !slices.Contains(cfg.AllowKinds, ev.Kind):
		return conn.OK(ev.ID, false, ReasonBlockedKind)
	case ev.Size() > cfg.MaxEventSizeBytes:
		return conn.OK(ev.ID, false, ReasonBlockedSize)
	case !ev.CheckID():
		id := ev.ID
		if id == "" {
			id = ev.ComputeID()
		}

		return conn.OK(id, false, ReasonIDMismatch)
	case !ev.VerifySignature():
		return conn.OK(ev.ID, false, ReasonBadSignature)
	}
	if err = p.store.Add(ctx, ev); err != nil {
		return errors.Wrapf(err, "failed to store event %v", ev.ID)
	}

	return conn.OK(ev.ID, true, "")
}

func (p *nip01) query(ctx context.Context, conn *plugin.Connection, req *model.ReqMessage) error {
	events, err := p.store.Query(ctx, req.Filters)
	if err != nil {
		return errors.Wrapf(err, "failed to query events for %v", req.SubscriptionID)
	}
	for _, ev := range events {
		if err = conn.Send(&nostr.EventEnvelope{SubscriptionID: &req.SubscriptionID, Event: ev.Event}); err != nil {
			return err
		}
	}
	eose := nostr.EOSEEnvelope(req.SubscriptionID)

	return conn.Send(&eose)
}
