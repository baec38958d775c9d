// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP94Config struct {
		RequireTags    []string `json:"requireTags"`
		AllowedDomains []string `json:"allowedDomains"`
		BlockedDomains []string `json:"blockedDomains"`
		Enabled        bool     `json:"enabled"`
	}
	nip94 struct {
		pctx *plugin.Context
	}
)

const (
	ReasonFileMetadataMissingTags = "invalid:nip94-missing-tags"
	ReasonFileBlockedDomain       = "nip94:blocked-domain"
	ReasonFileNotAllowedDomain    = "nip94:not-allowed-domain"
)

// NIP94 validates file metadata events.
func NIP94() *plugin.Plugin {
	p := new(nip94)

	return &plugin.Plugin{
		ID:  "nip-94",
		NIP: 94,
		NewConfig: func() any {
			return &NIP94Config{
				Enabled:        true,
				RequireTags:    []string{model.TagURL, model.TagOriginalSHA256},
				AllowedDomains: []string{},
				BlockedDomains: []string{},
			}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled":        booleanSchema("Enable NIP-94 checks", true),
				"requireTags":    stringArraySchema("Required tags", "Tags every kind 1063 event must carry."),
				"allowedDomains": stringArraySchema("Allowed domains", "Empty allows any domain."),
				"blockedDomains": stringArraySchema("Blocked domains", "Files hosted here are rejected."),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip94) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip94) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil || ev.Kind != model.KindFileMetadata {
		return false, nil
	}
	cfg, err := plugin.Config[NIP94Config](ctx, p.pctx)
	if err != nil || !cfg.Enabled {
		return false, err
	}
	for _, name := range cfg.RequireTags {
		if ev.GetTag(name).Value() == "" {
			return true, conn.OK(ev.ID, false, ReasonFileMetadataMissingTags)
		}
	}
	switch checkDomain(urlHost(ev.GetTag(model.TagURL).Value()), cfg.AllowedDomains, cfg.BlockedDomains) {
	case domainBlocked:
		return true, conn.OK(ev.ID, false, ReasonFileBlockedDomain)
	case domainNotAllowed:
		return true, conn.OK(ev.ID, false, ReasonFileNotAllowedDomain)
	default:
		return false, nil
	}
}
