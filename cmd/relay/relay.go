// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/relay/cfg"
	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/nips"
	"github.com/ice-blockchain/relay/plugin"
	"github.com/ice-blockchain/relay/server"
	"github.com/ice-blockchain/relay/storage"
)

var (
	port          uint16
	dbTarget      string
	configStorage string
	adminKey      string
	configFile    string
	relay         = &cobra.Command{
		Use:   "relay",
		Short: "pluggable nostr relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx)
		},
	}
	initFlags = func() {
		relay.Flags().StringVar(&configFile, "config", "", "path to application.yaml")
		relay.Flags().Uint16Var(&port, "port", 0, "port to communicate with clients (http/websocket), overrides server.port")
		relay.Flags().StringVar(&dbTarget, "db", "", "sqlite file for events, overrides database.target")
		relay.Flags().StringVar(&configStorage, "config-storage", "", "relay configuration storage path, overrides storage.path")
		relay.Flags().StringVar(&adminKey, "admin-key", "", "shared secret for the admin api, overrides server.adminKey")
	}
)

func init() {
	initFlags()
}

func main() {
	if err := relay.ExecuteContext(context.Background()); err != nil {
		log.Panic(err)
	}
}

func run(ctx context.Context) (err error) {
	cfg.MustInit(cfg.DiscoverFiles(configFile)...)
	srvCfg, dbCfg, storageCfg := cfg.MustGet[server.Config](), cfg.MustGet[database.Config](), cfg.MustGet[storage.Config]()
	applyFlags(srvCfg, dbCfg, storageCfg)

	store, err := database.Open(dbCfg)
	if err != nil {
		return errors.Wrap(err, "failed to open event store")
	}
	cfgStorage, err := storage.Open(ctx, storageCfg)
	if err != nil {
		return multierror.Append(errors.Wrap(err, "failed to open config storage"), store.Close()).ErrorOrNil()
	}
	defer func() {
		if cErr := multierror.Append(nil, cfgStorage.Close(), store.Close()).ErrorOrNil(); cErr != nil {
			err = multierror.Append(err, errors.Wrap(cErr, "failed to close storage"))
		}
	}()

	mgr := plugin.NewManager(cfgStorage)
	for _, p := range nips.Builtin(store, clock.New()) {
		mgr.Register(p)
	}
	if err = advertise(ctx, cfgStorage, mgr.SupportedNIPs()); err != nil {
		return err
	}
	if err = mgr.SetupAll(ctx); err != nil {
		return errors.Wrap(err, "failed to setup plugins")
	}
	log.Printf("relay listening on :%v, events in %v `%v`, config in %v", srvCfg.Port, dbCfg.Backend, dbCfg.Target, storageCfg.Backend)

	return errors.Wrap(server.New(srvCfg, mgr, cfgStorage).ListenAndServe(ctx), "server failed")
}

func applyFlags(srvCfg *server.Config, dbCfg *database.Config, storageCfg *storage.Config) {
	if port != 0 {
		srvCfg.Port = port
	}
	if adminKey != "" {
		srvCfg.HTTP.AdminKey = adminKey
	}
	if dbTarget != "" {
		dbCfg.Backend, dbCfg.Target = database.BackendSQLite, dbTarget
	}
	if configStorage != "" {
		storageCfg.Path = configStorage
		if storageCfg.Backend == storage.BackendMemory || storageCfg.Backend == "" {
			storageCfg.Backend = storage.BackendLevelDB
		}
	}
}

// advertise keeps supported_nips in the relay document in sync with the registered plugins.
func advertise(ctx context.Context, cfgStorage storage.ConfigStorage, supported []int) error {
	doc, err := cfgStorage.GetAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read relay config")
	}
	doc.Relay.SupportedNIPs = supported

	return errors.Wrap(cfgStorage.SetAll(ctx, doc), "failed to persist supported nips")
}
