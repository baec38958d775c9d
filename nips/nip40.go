// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP40Config struct {
		RejectExpired bool `json:"rejectExpired"`
	}
	nip40 struct {
		clock clock.Clock
		pctx  *plugin.Context
	}
)

const (
	ReasonExpired = "expired"
)

// NIP40 rejects events whose expiration tag lies in the past. Events without the tag are never affected.
func NIP40(clk clock.Clock) *plugin.Plugin {
	p := &nip40{clock: clk}

	return &plugin.Plugin{
		ID:        "nip-40",
		NIP:       40,
		NewConfig: func() any { return &NIP40Config{RejectExpired: true} },
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"rejectExpired": booleanSchema("Reject expired events", true),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip40) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip40) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil {
		return false, nil
	}
	expiration, found := ev.Expiration()
	if !found {
		return false, nil
	}
	cfg, err := plugin.Config[NIP40Config](ctx, p.pctx)
	if err != nil || !cfg.RejectExpired {
		return false, err
	}
	if int64(expiration) < p.clock.Now().Unix() {
		return true, conn.OK(ev.ID, false, ReasonExpired)
	}

	return false, nil
}
