// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	RateLimitConfig struct {
		Enabled         bool `json:"enabled"`
		EventsPerMinute int  `json:"eventsPerMinute"`
		Burst           int  `json:"burst"`
		BlockSeconds    int  `json:"blockSeconds"`
	}
	rateWindow struct {
		blockedUntil time.Time
		times        []time.Time
	}
	rateLimit struct {
		clock clock.Clock
		pctx  *plugin.Context
	}
)

const (
	NoticeRateLimited = "rate-limited"

	rateWindowKey    = "rate-limit/window"
	rateWindowLength = time.Minute
)

// RateLimit keeps a sliding one minute window of publishes per connection.
func RateLimit(clk clock.Clock) *plugin.Plugin {
	p := &rateLimit{clock: clk}

	return &plugin.Plugin{
		ID: "rate-limit",
		NewConfig: func() any {
			return &RateLimitConfig{Enabled: true, EventsPerMinute: 60, Burst: 30, BlockSeconds: 10}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled": booleanSchema("Enable rate limiting", true),
				"eventsPerMinute": map[string]any{
					"type": "integer", "title": "Events per minute limit", "default": 60, "minimum": 1,
				},
				"burst": map[string]any{
					"type": "integer", "title": "Burst allowance", "default": 30, "minimum": 0,
				},
				"blockSeconds": map[string]any{
					"type": "integer", "title": "Block duration (seconds)", "default": 10, "minimum": 0,
				},
			},
			"required": []any{"eventsPerMinute"},
		},
		Setup: p.setup,
	}
}

func (p *rateLimit) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *rateLimit) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	if _, isEvent := msg.(*model.EventMessage); !isEvent {
		return false, nil
	}
	cfg, err := plugin.Config[RateLimitConfig](ctx, p.pctx)
	if err != nil || !cfg.Enabled {
		return false, err
	}
	now := p.clock.Now()
	window := plugin.State[rateWindow](conn, rateWindowKey)
	if now.Before(window.blockedUntil) {
		return true, conn.Notice(NoticeRateLimited)
	}
	cutoff := now.Add(-rateWindowLength)
	kept := window.times[:0]
	for _, ts := range window.times {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	window.times = append(kept, now)
	if len(window.times) > cfg.EventsPerMinute+cfg.Burst {
		window.blockedUntil = now.Add(time.Duration(cfg.BlockSeconds) * time.Second)

		return true, conn.Notice(NoticeRateLimited)
	}

	return false, nil
}
