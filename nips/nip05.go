// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP05Config struct {
		// Names maps a local name to a hex public key or an npub.
		Names map[string]string `json:"names"`
		// Relays maps a hex public key or an npub to relay urls.
		Relays        map[string][]string `json:"relays"`
		resolvedNames map[string]string
		resolvedRelay map[string][]string
		Enabled       bool `json:"enabled"`
	}
	nip05Document struct {
		Names  map[string]string   `json:"names"`
		Relays map[string][]string `json:"relays,omitempty"`
	}
	nip05 struct {
		pctx *plugin.Context
	}
)

const (
	NIP05Path = "/.well-known/nostr.json"

	pubKeyHexLength = 64
)

// Validate resolves every key to lowercase hex.
func (c *NIP05Config) Validate() error {
	var result *multierror.Error
	c.resolvedNames = make(map[string]string, len(c.Names))
	for name, key := range c.Names {
		pubkey, err := resolvePubKey(key)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "name %q", name))

			continue
		}
		c.resolvedNames[strings.ToLower(name)] = pubkey
	}
	c.resolvedRelay = make(map[string][]string, len(c.Relays))
	for key, relays := range c.Relays {
		pubkey, err := resolvePubKey(key)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "relays of %q", key))

			continue
		}
		c.resolvedRelay[pubkey] = relays
	}

	return result.ErrorOrNil()
}

func resolvePubKey(key string) (string, error) {
	if strings.HasPrefix(key, "npub1") {
		prefix, val, err := nip19.Decode(key)
		if err != nil {
			return "", errors.Wrapf(err, "invalid npub %q", key)
		}
		pubkey, ok := val.(string)
		if prefix != "npub" || !ok {
			return "", errors.Errorf("%q is not an npub", key)
		}

		return pubkey, nil
	}
	if _, err := hex.DecodeString(key); err != nil || len(key) != pubKeyHexLength {
		return "", errors.Errorf("%q is neither a hex public key nor an npub", key)
	}

	return strings.ToLower(key), nil
}

// NIP05 serves nostr address lookups from its config.
func NIP05() *plugin.Plugin {
	p := new(nip05)

	return &plugin.Plugin{
		ID:  "nip-05",
		NIP: 5,
		NewConfig: func() any {
			return &NIP05Config{Enabled: true, Names: map[string]string{}, Relays: map[string][]string{}}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled": booleanSchema("Enable NIP-05 identifier mapping", true),
				"names": map[string]any{
					"type":                 "object",
					"title":                "Name to public key mappings",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"relays": map[string]any{
					"type":                 "object",
					"title":                "Public key to relay URLs",
					"additionalProperties": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		Setup: p.setup,
		Fetch: p.fetch,
	}
}

func (p *nip05) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx

	return nil
}

func (p *nip05) fetch(w http.ResponseWriter, r *http.Request) bool {
	if p.pctx == nil || r.Method != http.MethodGet || r.URL.Path != NIP05Path {
		return false
	}
	cfg, err := plugin.Config[NIP05Config](r.Context(), p.pctx)
	if err != nil {
		p.pctx.Logf("ERROR: %v", err)
		w.WriteHeader(http.StatusInternalServerError)

		return true
	}
	if !cfg.Enabled {
		return false
	}
	doc, status := cfg.lookup(r.URL.Query().Get("name")), http.StatusOK
	if len(doc.Names) == 0 {
		status = http.StatusNotFound
	}
	if err = writeJSON(w, contentTypeJSON, status, doc); err != nil {
		p.pctx.Logf("ERROR: %v", err)
	}

	return true
}

// lookup answers a single name, or every name when name is empty.
func (c *NIP05Config) lookup(name string) *nip05Document {
	doc := &nip05Document{Names: map[string]string{}, Relays: map[string][]string{}}
	add := func(name, pubkey string) {
		doc.Names[name] = pubkey
		if relays, found := c.resolvedRelay[pubkey]; found {
			doc.Relays[pubkey] = relays
		}
	}
	if name == "" {
		for name, pubkey := range c.resolvedNames {
			add(name, pubkey)
		}
	} else if pubkey, found := c.resolvedNames[strings.ToLower(name)]; found {
		add(strings.ToLower(name), pubkey)
	}

	return doc
}
