// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"strings"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP92Config struct {
		AllowedDomains []string `json:"allowedDomains"`
		BlockedDomains []string `json:"blockedDomains"`
		Enabled        bool     `json:"enabled"`
		// EnforceImetaURLMatch requires every imeta url to appear in the event content as well.
		EnforceImetaURLMatch bool `json:"enforceImetaUrlMatch"`
	}
	nip92 struct {
		pctx *plugin.Context
	}
)

const (
	ReasonImetaBlockedDomain    = "imeta:blocked-domain"
	ReasonImetaNotAllowedDomain = "imeta:not-allowed-domain"
	ReasonImetaURLMismatch      = "imeta:url-mismatch"
)

// NIP92 checks the urls of media attachments declared with imeta tags.
func NIP92() *plugin.Plugin {
	p := new(nip92)

	return &plugin.Plugin{
		ID:  "nip-92",
		NIP: 92,
		NewConfig: func() any {
			return &NIP92Config{
				Enabled:        true,
				AllowedDomains: []string{},
				BlockedDomains: []string{"malicious-site.com", "spam-images.net"},
			}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled":              booleanSchema("Enable media attachment validation", true),
				"enforceImetaUrlMatch": booleanSchema("Require imeta URLs to appear in content", false),
				"allowedDomains":       stringArraySchema("Allowed media domains", "Empty allows any domain."),
				"blockedDomains":       stringArraySchema("Blocked media domains", "Media hosted here is rejected."),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip92) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip92) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil || !ev.HasTag(model.TagIMeta) {
		return false, nil
	}
	cfg, err := plugin.Config[NIP92Config](ctx, p.pctx)
	if err != nil || !cfg.Enabled {
		return false, err
	}
	for _, tag := range ev.Tags {
		if tag.Key() != model.TagIMeta {
			continue
		}
		for _, u := range parseImeta(tag)[model.TagURL] {
			switch checkDomain(urlHost(u), cfg.AllowedDomains, cfg.BlockedDomains) {
			case domainBlocked:
				return true, conn.OK(ev.ID, false, ReasonImetaBlockedDomain)
			case domainNotAllowed:
				return true, conn.OK(ev.ID, false, ReasonImetaNotAllowedDomain)
			case domainAccepted:
			}
			if cfg.EnforceImetaURLMatch && !strings.Contains(ev.Content, u) {
				return true, conn.OK(ev.ID, false, ReasonImetaURLMismatch)
			}
		}
	}

	return false, nil
}

// parseImeta splits the "key value" entries of an imeta tag. Entries without a space are ignored.
func parseImeta(tag model.Tag) map[string][]string {
	fields := make(map[string][]string, len(tag))
	for _, entry := range tag[1:] {
		key, val, found := strings.Cut(entry, " ")
		if !found {
			continue
		}
		fields[key] = append(fields[key], val)
	}

	return fields
}
