// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

type levelDBKV struct {
	db      *leveldb.DB
	storage ldbstorage.Storage
}

// newLevelDBKV opens a leveldb database in path, or an in-memory one when path is empty.
func newLevelDBKV(path string) (*levelDBKV, error) {
	var (
		stor ldbstorage.Storage
		err  error
	)
	if path == "" {
		stor = ldbstorage.NewMemStorage()
	} else if stor, err = ldbstorage.OpenFile(path, false); err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb storage %v", path)
	}
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, multierror.Append(errors.Wrapf(err, "failed to open leveldb %v", path), stor.Close()).ErrorOrNil()
	}

	return &levelDBKV{db: db, storage: stor}, nil
}

func (l *levelDBKV) Get(_ context.Context, key string) ([]byte, error) {
	val, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errKeyNotFound
	}

	return val, errors.Wrapf(err, "failed to read %v", key)
}

func (l *levelDBKV) Put(_ context.Context, key string, value []byte) error {
	return errors.Wrapf(l.db.Put([]byte(key), value, nil), "failed to write %v", key)
}

func (l *levelDBKV) Close() error {
	return multierror.Append(
		errors.Wrap(l.db.Close(), "failed to close leveldb"),
		errors.Wrap(l.storage.Close(), "failed to close leveldb storage"),
	).ErrorOrNil()
}
