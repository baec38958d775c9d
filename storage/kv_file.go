// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
)

const (
	fileExtension = ".json"
)

type fileKV struct {
	watcher  *fsnotify.Watcher
	onChange func(name string)
	done     chan struct{}
	dir      string
}

// newFileConfigStorage keeps the config as a json file in dir. Edits made to the file by anything
// else are picked up by the watcher, which drops the cached copy.
func newFileConfigStorage(dir string) (*configStorage, error) {
	if dir == "" {
		return nil, errors.New("config directory is required for the file backend")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create %v", dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	if err = watcher.Add(dir); err != nil {
		return nil, multierror.Append(errors.Wrapf(err, "failed to watch %v", dir), watcher.Close()).ErrorOrNil()
	}
	store := &fileKV{watcher: watcher, dir: dir, done: make(chan struct{})}
	cfgStorage := newConfigStorage(store, 0)
	store.onChange = func(name string) {
		if name == configKey {
			cfgStorage.invalidate()
		}
	}
	go store.watch()

	return cfgStorage, nil
}

func (f *fileKV) path(key string) string {
	return filepath.Join(f.dir, key+fileExtension)
}

func (f *fileKV) watch() {
	defer close(f.done)

	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if name := filepath.Base(ev.Name); filepath.Ext(name) == fileExtension {
					f.onChange(name[:len(name)-len(fileExtension)])
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARN: config watcher for %v: %v", f.dir, err)
		}
	}
}

func (f *fileKV) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errKeyNotFound
	}

	return data, errors.Wrapf(err, "failed to read %v", f.path(key))
}

// Put writes through a temporary file and a rename so readers never observe a partial file.
func (f *fileKV) Put(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, "."+key+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file in %v", f.dir)
	}
	if _, err = tmp.Write(value); err != nil {
		return multierror.Append(errors.Wrap(err, "failed to write temporary file"), tmp.Close(), os.Remove(tmp.Name())).ErrorOrNil()
	}
	if err = tmp.Close(); err != nil {
		return multierror.Append(errors.Wrap(err, "failed to close temporary file"), os.Remove(tmp.Name())).ErrorOrNil()
	}

	return errors.Wrapf(os.Rename(tmp.Name(), f.path(key)), "failed to replace %v", f.path(key))
}

func (f *fileKV) Close() error {
	err := f.watcher.Close()
	<-f.done

	return errors.Wrap(err, "failed to close watcher")
}
