// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
)

// Builtin returns every bundled plugin in dispatch order: the gating plugins come first so that a message none
// of them rejects reaches the acceptance plugin last.
func Builtin(store database.EventStore, clk clock.Clock) []*plugin.Plugin {
	if clk == nil {
		clk = clock.New()
	}

	return []*plugin.Plugin{
		RateLimit(clk),
		NIP42(clk),
		NIP13(),
		NIP40(clk),
		NIP22(),
		NIP28(),
		NIP92(),
		NIP94(),
		NIPEE(),
		NIP09(store),
		NIP45(store),
		NIP11(),
		NIP05(),
		NIP96(),
		NIP01(store),
	}
}

func eventOf(msg model.Message) *model.Event {
	if m, ok := msg.(*model.EventMessage); ok {
		return m.Event
	}

	return nil
}

// urlHost is the lowercased host (with port) of raw, empty when raw is not an absolute url.
func urlHost(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return strings.ToLower(parsed.Host)
}

func containsFold(list []string, val string) bool {
	return slices.ContainsFunc(list, func(item string) bool { return strings.EqualFold(item, val) })
}

type domainVerdict int

const (
	domainAccepted domainVerdict = iota
	domainBlocked
	domainNotAllowed
)

// checkDomain applies the block list first and then the allow list, which only applies when not empty.
func checkDomain(host string, allowed, blocked []string) domainVerdict {
	switch {
	case host == "":
		return domainAccepted
	case containsFold(blocked, host):
		return domainBlocked
	case len(allowed) > 0 && !containsFold(allowed, host):
		return domainNotAllowed
	default:
		return domainAccepted
	}
}

func writeJSON(w http.ResponseWriter, contentType string, status int, val any) error {
	body, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "failed to marshal response")
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, err = w.Write(body)

	return errors.Wrap(err, "failed to write response")
}

func stringArraySchema(title, description string) map[string]any {
	return map[string]any{"type": "array", "title": title, "description": description, "items": map[string]any{"type": "string"}}
}

func integerArraySchema(title, description string) map[string]any {
	return map[string]any{"type": "array", "title": title, "description": description, "items": map[string]any{"type": "integer"}}
}

func booleanSchema(title string, def bool) map[string]any {
	return map[string]any{"type": "boolean", "title": title, "default": def}
}
