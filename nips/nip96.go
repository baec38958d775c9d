// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"net/http"

	"github.com/ice-blockchain/relay/plugin"
)

type (
	// NIP96Config is served as the file storage discovery document. Uploads are handled elsewhere.
	NIP96Config struct {
		Plans          map[string]any `json:"plans,omitempty"`
		APIURL         string         `json:"api_url"`
		DownloadURL    string         `json:"download_url,omitempty"`
		DelegatedToURL string         `json:"delegated_to_url,omitempty"`
		TOSURL         string         `json:"tos_url,omitempty"`
		SupportedNIPs  []int          `json:"supported_nips"`
		ContentTypes   []string       `json:"content_types"`
		Enabled        bool           `json:"enabled"`
	}
	nip96Document struct {
		Plans          map[string]any `json:"plans,omitempty"`
		APIURL         string         `json:"api_url"`
		DownloadURL    string         `json:"download_url"`
		DelegatedToURL string         `json:"delegated_to_url"`
		TOSURL         string         `json:"tos_url,omitempty"`
		SupportedNIPs  []int          `json:"supported_nips"`
		ContentTypes   []string       `json:"content_types"`
	}
	nip96 struct {
		pctx *plugin.Context
	}
)

const (
	NIP96DiscoveryPath = "/.well-known/nostr/nip96.json"
)

func NIP96() *plugin.Plugin {
	p := new(nip96)

	return &plugin.Plugin{
		ID:  "nip-96",
		NIP: 96,
		NewConfig: func() any {
			return &NIP96Config{
				Enabled:       true,
				SupportedNIPs: []int{96},
				ContentTypes:  []string{"image/*", "video/*", "audio/*"},
			}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled":          booleanSchema("Serve the NIP-96 discovery document", true),
				"api_url":          map[string]any{"type": "string", "title": "API URL"},
				"download_url":     map[string]any{"type": "string", "title": "Download URL"},
				"delegated_to_url": map[string]any{"type": "string", "title": "Delegated To URL"},
				"tos_url":          map[string]any{"type": "string", "title": "Terms of Service URL"},
				"supported_nips":   integerArraySchema("Supported NIPs", "NIPs supported by the file server."),
				"content_types":    stringArraySchema("Content types", "Accepted MIME types."),
				"plans":            map[string]any{"type": "object", "title": "Plans"},
			},
		},
		Setup: p.setup,
		Fetch: p.fetch,
	}
}

func (p *nip96) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx

	return nil
}

func (p *nip96) fetch(w http.ResponseWriter, r *http.Request) bool {
	if p.pctx == nil || r.Method != http.MethodGet || r.URL.Path != NIP96DiscoveryPath {
		return false
	}
	cfg, err := plugin.Config[NIP96Config](r.Context(), p.pctx)
	if err != nil {
		p.pctx.Logf("ERROR: %v", err)
		w.WriteHeader(http.StatusInternalServerError)

		return true
	}
	if !cfg.Enabled {
		return false
	}
	doc := &nip96Document{
		APIURL:         cfg.APIURL,
		DownloadURL:    cfg.DownloadURL,
		DelegatedToURL: cfg.DelegatedToURL,
		TOSURL:         cfg.TOSURL,
		SupportedNIPs:  cfg.SupportedNIPs,
		ContentTypes:   cfg.ContentTypes,
		Plans:          cfg.Plans,
	}
	if err = writeJSON(w, contentTypeJSON, http.StatusOK, doc); err != nil {
		p.pctx.Logf("ERROR: %v", err)
	}

	return true
}
