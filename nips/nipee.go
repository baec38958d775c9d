// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"fmt"
	"slices"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIPEEConfig struct {
		// AllowedRelays restricts the relays a group event may reference in its relays tag, empty allows any.
		AllowedRelays    []string `json:"allowedRelays"`
		Enabled          bool     `json:"enabled"`
		AllowKeyPackages bool     `json:"allowKeyPackages"`
		AllowWelcomes    bool     `json:"allowWelcomes"`
		AllowGroupEvents bool     `json:"allowGroupEvents"`
	}
	nipEE struct {
		pctx *plugin.Context
	}
)

const (
	ReasonGroupRelayNotAllowed = "nip-ee:relay-not-allowed"
)

// NIPEE gates MLS group messaging kinds. It is identified by the group event kind, so it is not advertised.
func NIPEE() *plugin.Plugin {
	p := new(nipEE)

	return &plugin.Plugin{
		ID:  "nip-ee",
		NIP: model.KindMLSGroupEvent,
		NewConfig: func() any {
			return &NIPEEConfig{
				Enabled:          true,
				AllowKeyPackages: true,
				AllowWelcomes:    true,
				AllowGroupEvents: true,
				AllowedRelays:    []string{},
			}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled":          booleanSchema("Enable NIP-EE", true),
				"allowKeyPackages": booleanSchema("Accept KeyPackage events (443)", true),
				"allowWelcomes":    booleanSchema("Accept Welcome events (444)", true),
				"allowGroupEvents": booleanSchema("Accept Group events (445)", true),
				"allowedRelays":    stringArraySchema("Allowed relays", "Empty allows any relay."),
			},
		},
		Setup: p.setup,
	}
}

func (p *nipEE) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nipEE) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil || (ev.Kind != model.KindMLSKeyPackage && ev.Kind != model.KindMLSWelcome && ev.Kind != model.KindMLSGroupEvent) {
		return false, nil
	}
	cfg, err := plugin.Config[NIPEEConfig](ctx, p.pctx)
	if err != nil || !cfg.Enabled {
		return false, err
	}
	if !cfg.allows(ev.Kind) {
		return true, conn.OK(ev.ID, false, fmt.Sprintf("nip-ee:blocked:%d", ev.Kind))
	}
	if len(cfg.AllowedRelays) > 0 {
		var relays []string
		for _, tag := range ev.Tags {
			if tag.Key() == model.TagRelays {
				relays = append(relays, tag[1:]...)
			}
		}
		if len(relays) > 0 && !slices.ContainsFunc(relays, func(relay string) bool { return slices.Contains(cfg.AllowedRelays, relay) }) {
			return true, conn.OK(ev.ID, false, ReasonGroupRelayNotAllowed)
		}
	}

	return false, nil
}

func (c *NIPEEConfig) allows(kind model.Kind) bool {
	switch kind {
	case model.KindMLSKeyPackage:
		return c.AllowKeyPackages
	case model.KindMLSWelcome:
		return c.AllowWelcomes
	default:
		return c.AllowGroupEvents
	}
}
