// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP28Config struct {
		Enabled                      bool `json:"enabled"`
		RequireChannelRefForMessages bool `json:"requireChannelRefForMessages"`
	}
	nip28 struct {
		pctx *plugin.Context
	}
)

const (
	ReasonMissingChannel = "invalid:nip28-missing-channel"
)

// NIP28 requires channel messages to reference their channel.
func NIP28() *plugin.Plugin {
	p := new(nip28)

	return &plugin.Plugin{
		ID:        "nip-28",
		NIP:       28,
		NewConfig: func() any { return &NIP28Config{Enabled: true, RequireChannelRefForMessages: true} },
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled":                      booleanSchema("Enable NIP-28 checks", true),
				"requireChannelRefForMessages": booleanSchema("Require channel reference tag on kind 42", true),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip28) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip28) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil || ev.Kind != model.KindChannelMessage {
		return false, nil
	}
	cfg, err := plugin.Config[NIP28Config](ctx, p.pctx)
	if err != nil || !cfg.Enabled || !cfg.RequireChannelRefForMessages {
		return false, err
	}
	if !ev.HasTag(model.TagEvent) && !ev.HasTag(model.TagAddress) {
		return true, conn.OK(ev.ID, false, ReasonMissingChannel)
	}

	return false, nil
}
