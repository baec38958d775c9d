// SPDX-License-Identifier: ice License 1.0

package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/storage"
)

type (
	// Manager owns the ordered plugin list. Registration order is the dispatch order of message and HTTP hooks
	// and the enumeration order of schemas.
	Manager struct {
		storage     storage.ConfigStorage
		metrics     metrics.Registry
		dispatch    metrics.Timer
		unclaimed   metrics.Counter
		schemasErr  error
		contexts    map[string]*Context
		plugins     []*Plugin
		handlers    []*registeredHandler
		schemasOnce sync.Once
	}
	registeredHandler struct {
		handle   MessageHandler
		claims   metrics.Counter
		pluginID string
	}
)

const (
	minAdvertisedNIP = 1
	maxAdvertisedNIP = 200

	dispatchTimerName    = "dispatch"
	unclaimedCounterName = "unclaimed"
	claimsCounterPrefix  = "claims/"
	labelCounterPrefix   = "messages/"
)

func NewManager(cfgStorage storage.ConfigStorage) *Manager {
	registry := metrics.NewRegistry()

	return &Manager{
		storage:   cfgStorage,
		metrics:   registry,
		dispatch:  metrics.GetOrRegisterTimer(dispatchTimerName, registry),
		unclaimed: metrics.GetOrRegisterCounter(unclaimedCounterName, registry),
		contexts:  make(map[string]*Context),
	}
}

func (m *Manager) Register(p *Plugin) {
	m.plugins = append(m.plugins, p)
}

func (m *Manager) Plugins() []*Plugin {
	return slices.Clone(m.plugins)
}

// Context returns the context of a registered plugin, nil for unknown ids.
func (m *Manager) Context(pluginID string) *Context {
	return m.contexts[pluginID]
}

// SetupAll resolves and validates the config of every plugin and runs its Setup, in registration order.
// The first failure aborts.
func (m *Manager) SetupAll(ctx context.Context) error {
	if err := m.compileSchemas(); err != nil {
		return err
	}
	for _, p := range m.plugins {
		pctx := m.contexts[p.ID]
		if _, err := pctx.Config(ctx); err != nil {
			return errors.Wrapf(err, "failed to resolve config of %v", p.ID)
		}
		if err := p.Setup(ctx, pctx); err != nil {
			return errors.Wrapf(err, "failed to setup %v", p.ID)
		}
	}

	return nil
}

func (m *Manager) compileSchemas() error {
	m.schemasOnce.Do(func() {
		for _, p := range m.plugins {
			if _, found := m.contexts[p.ID]; found {
				m.schemasErr = errors.Wrapf(ErrDuplicatePlugin, "%v", p.ID)

				return
			}
			if p.Setup == nil {
				m.schemasErr = errors.Wrapf(ErrNoSetup, "%v", p.ID)

				return
			}
			pctx := &Context{manager: m, plugin: p}
			if m.schemasErr = pctx.compileSchema(); m.schemasErr != nil {
				return
			}
			m.contexts[p.ID] = pctx
		}
	})

	return m.schemasErr
}

// OnMessage runs the registered message handlers until one claims msg, then the plugin OnMessage hooks.
// It reports whether anything claimed it.
func (m *Manager) OnMessage(ctx context.Context, conn *Connection, msg model.Message) (bool, error) {
	defer m.dispatch.UpdateSince(time.Now())
	m.metrics.GetOrRegister(labelCounterPrefix+msg.Label(), metrics.NewCounter).(metrics.Counter).Inc(1)
	for _, h := range m.handlers {
		handled, err := h.handle(ctx, conn, msg)
		if err != nil {
			return false, errors.Wrapf(err, "%v failed to handle %v", h.pluginID, msg.Label())
		}
		if handled {
			h.claims.Inc(1)

			return true, nil
		}
	}
	for _, p := range m.plugins {
		if p.OnMessage == nil {
			continue
		}
		handled, err := p.OnMessage(ctx, conn, msg)
		if err != nil {
			return false, errors.Wrapf(err, "%v failed to handle %v", p.ID, msg.Label())
		}
		if handled {
			m.claimsCounter(p.ID).Inc(1)

			return true, nil
		}
	}
	m.unclaimed.Inc(1)

	return false, nil
}

// Fetch offers the request to every HTTP hook in order and reports whether one of them responded.
func (m *Manager) Fetch(w http.ResponseWriter, r *http.Request) bool {
	for _, p := range m.plugins {
		if p.Fetch != nil && p.Fetch(w, r) {
			return true
		}
	}

	return false
}

func (m *Manager) SupportedNIPs() []int {
	nips := make([]int, 0, len(m.plugins))
	for _, p := range m.plugins {
		if p.NIP >= minAdvertisedNIP && p.NIP < maxAdvertisedNIP {
			nips = append(nips, p.NIP)
		}
	}
	slices.Sort(nips)

	return slices.Compact(nips)
}

func (m *Manager) AdminSchemas() map[string]Schema {
	schemas := make(map[string]Schema, len(m.plugins))
	for _, p := range m.plugins {
		schemas[p.ID] = p.Schema
	}

	return schemas
}

// ValidateConfig checks every plugin entry of cfg the same way SetupAll does, without persisting anything.
func (m *Manager) ValidateConfig(_ context.Context, cfg *storage.RelayConfig) error {
	if err := m.compileSchemas(); err != nil {
		return err
	}
	if cfg == nil {
		return errors.Wrap(ErrInvalidConfig, "nil config")
	}
	var result *multierror.Error
	for _, p := range m.plugins {
		raw, found := cfg.Plugins[p.ID]
		if !found || raw == nil || p.NewConfig == nil {
			continue
		}
		data, err := json.Marshal(raw)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(ErrInvalidConfig, "%v: %v", p.ID, err))

			continue
		}
		if _, err = m.contexts[p.ID].decode(data); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Stats is a snapshot of the dispatch metrics.
func (m *Manager) Stats() map[string]map[string]any {
	return m.metrics.GetAll()
}

func (m *Manager) claimsCounter(pluginID string) metrics.Counter {
	return metrics.GetOrRegisterCounter(claimsCounterPrefix+pluginID, m.metrics)
}
