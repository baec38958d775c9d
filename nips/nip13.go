// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"fmt"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP13Config struct {
		MinDifficulty int `json:"minDifficulty"`
	}
	nip13 struct {
		pctx *plugin.Context
	}
)

// NIP13 rejects events whose id has fewer leading zero bits than configured.
func NIP13() *plugin.Plugin {
	p := new(nip13)

	return &plugin.Plugin{
		ID:        "nip-13",
		NIP:       13,
		NewConfig: func() any { return new(NIP13Config) },
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"minDifficulty": map[string]any{
					"type": "integer", "title": "Minimum PoW difficulty", "default": 0, "minimum": 0, "maximum": 256,
				},
			},
		},
		Setup: p.setup,
	}
}

func (p *nip13) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip13) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil {
		return false, nil
	}
	cfg, err := plugin.Config[NIP13Config](ctx, p.pctx)
	if err != nil || cfg.MinDifficulty <= 0 {
		return false, err
	}
	if bits := ev.Difficulty(); bits < cfg.MinDifficulty {
		return true, conn.OK(ev.ID, false, fmt.Sprintf("pow:%d<%d", bits, cfg.MinDifficulty))
	}

	return false, nil
}
