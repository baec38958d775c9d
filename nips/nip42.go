// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	NIP42Config struct {
		RequireAuthForPublish bool `json:"requireAuthForPublish"`
	}
	// authSession moves from unauthenticated (empty) to challenged (challenge set)
	// to authenticated (pubkey set). It is never reset back within one connection.
	authSession struct {
		issuedAt  time.Time
		challenge string
		pubkey    string
	}
	nip42 struct {
		clock clock.Clock
		pctx  *plugin.Context
	}
)

const (
	ReasonNoChallenge        = "restricted:no-challenge"
	ReasonAuthKind           = "invalid:auth-kind"
	ReasonStaleAuth          = "invalid:stale-auth"
	ReasonChallenge          = "invalid:challenge"
	ReasonRelay              = "invalid:relay"
	ReasonAuthPubkeyMismatch = "restricted:auth-pubkey-mismatch"

	authSessionKey  = "nip-42/session"
	maxAuthClockGap = 600 * time.Second
)

// NIP42 gates publishing behind a challenge/response handshake when enabled and never intercepts otherwise.
func NIP42(clk clock.Clock) *plugin.Plugin {
	p := &nip42{clock: clk}

	return &plugin.Plugin{
		ID:        "nip-42",
		NIP:       42,
		NewConfig: func() any { return new(NIP42Config) },
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"requireAuthForPublish": booleanSchema("Require AUTH for publish", false),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip42) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip42) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	cfg, err := plugin.Config[NIP42Config](ctx, p.pctx)
	if err != nil || !cfg.RequireAuthForPublish {
		return false, err
	}
	switch m := msg.(type) {
	case *model.EventMessage:
		return p.gatePublish(conn, m.Event)
	case *model.AuthMessage:
		return true, p.authenticate(conn, m.Event)
	default:
		return false, nil
	}
}

func (p *nip42) gatePublish(conn *plugin.Connection, ev *model.Event) (bool, error) {
	session := plugin.State[authSession](conn, authSessionKey)
	if session.pubkey == "" {
		session.challenge = uuid.NewString()
		session.issuedAt = p.clock.Now()
		challenge := session.challenge

		return true, conn.Send(&nostr.AuthEnvelope{Challenge: &challenge})
	}
	if ev.PubKey != session.pubkey {
		return true, conn.OK(ev.ID, false, ReasonAuthPubkeyMismatch)
	}

	return false, nil
}

func (p *nip42) authenticate(conn *plugin.Connection, ev *model.Event) error {
	session := plugin.State[authSession](conn, authSessionKey)
	if session.challenge == "" {
		return conn.OK(ev.ID, false, ReasonNoChallenge)
	}
	if ev.Kind != model.KindClientAuthentication {
		return conn.OK(ev.ID, false, ReasonAuthKind)
	}
	if gap := p.clock.Now().Unix() - int64(ev.CreatedAt); math.Abs(float64(gap)) > maxAuthClockGap.Seconds() {
		return conn.OK(ev.ID, false, ReasonStaleAuth)
	}
	if ev.GetTag(model.TagChallenge).Value() != session.challenge {
		return conn.OK(ev.ID, false, ReasonChallenge)
	}
	if !p.relayMatches(conn, ev) {
		return conn.OK(ev.ID, false, ReasonRelay)
	}
	if !ev.Verify() {
		return conn.OK(ev.ID, false, ReasonBadSignature)
	}
	session.pubkey, session.challenge = ev.PubKey, ""
	p.pctx.Logf("connection %v authenticated as %v (challenged at %v)", conn.ID, ev.PubKey, session.issuedAt.Unix())

	return conn.OK(ev.ID, true, "")
}

// relayMatches requires a relay tag whose host is the host the client connected to.
// The host comparison is skipped when the connection url is unknown.
func (*nip42) relayMatches(conn *plugin.Connection, ev *model.Event) bool {
	relay := ev.GetTag(model.TagRelay).Value()
	if relay == "" {
		return false
	}
	if conn.RelayURL == "" {
		return true
	}
	expected := urlHost(conn.RelayURL)

	return expected != "" && urlHost(relay) == expected
}
