// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"net/http"
	"strings"

	"github.com/ice-blockchain/relay/plugin"
)

const (
	contentTypeNostrJSON = "application/nostr+json"
)

type nip11 struct {
	pctx *plugin.Context
}

// NIP11 serves the relay information document on GET / for clients accepting application/nostr+json.
// The document is the persisted relay info, with supported_nips taken from the registered plugins.
func NIP11() *plugin.Plugin {
	p := new(nip11)

	return &plugin.Plugin{
		ID:    "nip-11",
		NIP:   11,
		Setup: p.setup,
		Fetch: p.fetch,
	}
}

func (p *nip11) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx

	return nil
}

func (p *nip11) fetch(w http.ResponseWriter, r *http.Request) bool {
	if p.pctx == nil || r.Method != http.MethodGet || r.URL.Path != "/" ||
		!strings.Contains(r.Header.Get("Accept"), contentTypeNostrJSON) {
		return false
	}
	info, err := p.pctx.RelayInfo(r.Context())
	if err != nil {
		p.pctx.Logf("ERROR: %v", err)
		w.WriteHeader(http.StatusInternalServerError)

		return true
	}
	info.SupportedNIPs = p.pctx.SupportedNIPs()
	if err = writeJSON(w, contentTypeNostrJSON, http.StatusOK, info); err != nil {
		p.pctx.Logf("ERROR: %v", err)
	}

	return true
}
