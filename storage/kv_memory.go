// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	"slices"
	"sync"
)

type memoryKV struct {
	values map[string][]byte
	mx     sync.RWMutex
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: make(map[string][]byte)}
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	val, found := m.values[key]
	if !found {
		return nil, errKeyNotFound
	}

	return slices.Clone(val), nil
}

func (m *memoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mx.Lock()
	m.values[key] = slices.Clone(value)
	m.mx.Unlock()

	return nil
}

func (*memoryKV) Close() error {
	return nil
}
