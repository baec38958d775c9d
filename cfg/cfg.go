// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const (
	modulePath   = "github.com/ice-blockchain/relay"
	fallbackPath = "/etc/relay/application.yaml"
)

var (
	loadOnce   = new(sync.Once)
	loadedFrom string
)

// MustInit reads application.yaml from the first of paths viper can parse. Later calls do nothing,
// so both main and test fixtures may call it.
func MustInit(paths ...string) {
	loadOnce.Do(func() { loadedFrom = load(paths) })
}

func load(paths []string) string {
	for _, path := range paths {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err == nil {
			return path
		}
	}
	if len(paths) > 0 {
		log.Printf("WARN: none of %+v is readable, sections will be decoded as empty (expected `%v`)", paths, fallbackPath)
	}

	return fallbackPath
}

// MustGet decodes the section owned by T's package: `server:` for server.Config, `database:` for database.Config.
func MustGet[T any]() *T {
	section, out := Key[T](), new(T)
	if err := viper.UnmarshalKey(section, out); err != nil {
		log.Panic(errors.Wrapf(err, "section `%v` of `%v` does not decode into %T", section, loadedFrom, out))
	}

	return out
}

// Key is the yaml section of T, its package path relative to the module. Types from other modules have none.
func Key[T any]() string {
	section, found := strings.CutPrefix(reflect.TypeOf((*T)(nil)).Elem().PkgPath(), modulePath+"/")
	if !found {
		return ""
	}

	return section
}

// Path is the file MustInit loaded.
func Path() string {
	return loadedFrom
}
