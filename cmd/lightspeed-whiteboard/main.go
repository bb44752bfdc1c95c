package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-whiteboard/api"
	"github.com/tcriess/lightspeed-whiteboard/auth"
	"github.com/tcriess/lightspeed-whiteboard/board"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/session"
	"github.com/tcriess/lightspeed-whiteboard/types"
	"github.com/tcriess/lightspeed-whiteboard/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	// sqlite and buntdb files must not be written by two servers at once
	if lockPath := dataLockPath(globalConfig.PersistenceConfig); lockPath != "" {
		fileLock := flock.New(lockPath)
		locked, err := fileLock.TryLock()
		if err != nil {
			panic(err)
		}
		if !locked {
			globals.AppLogger.Error("data file is in use by another process", "lock", lockPath)
			os.Exit(1)
		}
		defer fileLock.Unlock()
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	rooms, err := room.NewRegistry(persister, globalConfig.RoomConfig.CacheSize, globalConfig.RoomConfig.CacheTTL, globalConfig.RoomConfig.DefaultMaxUsers)
	if err != nil {
		panic(err)
	}
	var mirror session.PresenceMirror
	if globalConfig.PresenceConfig.RedisAddr != "" {
		redisMirror := session.NewRedisMirror(globalConfig.PresenceConfig.RedisAddr, globalConfig.PresenceConfig.RedisPassword,
			globalConfig.PresenceConfig.RedisDB, globalConfig.PresenceConfig.TTL)
		defer redisMirror.Close()
		mirror = redisMirror
		globals.AppLogger.Info("mirroring presence to redis", "addr", globalConfig.PresenceConfig.RedisAddr)
	}
	sessions := session.NewManager(persister, rooms, mirror)

	policy, err := auth.NewPolicy(globalConfig.PolicyConfig)
	if err != nil {
		panic(err)
	}
	elements := board.NewElementStore(persister, rooms)
	snapshots := board.NewSnapshotManager(elements, policy)
	hubs := ws.NewHubs()

	if globalConfig.SnapshotConfig.CronSpec != "" {
		admin := &types.User{Id: globalConfig.AdminUser, Nick: globalConfig.AdminUser}
		scheduler, err := board.NewScheduler(globalConfig.SnapshotConfig.CronSpec, snapshots, hubs.ActiveRooms, admin)
		if err != nil {
			panic(err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		globals.AppLogger.Info("scheduled snapshots enabled", "cron", globalConfig.SnapshotConfig.CronSpec)
	}

	server := &api.Server{
		Rooms:          rooms,
		Sessions:       sessions,
		Elements:       elements,
		Snapshots:      snapshots,
		Policy:         policy,
		Hubs:           hubs,
		Authenticator:  auth.NewAuthenticator(globalConfig),
		AllowedOrigins: globalConfig.ServerConfig.AllowedOrigins,
	}
	httpServer := &http.Server{
		Addr:    globalConfig.ServerConfig.Addr,
		Handler: server.Router(),
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-c
		globals.AppLogger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// websocket sessions first, their cleanup still needs the persister
		if err := hubs.Shutdown(ctx); err != nil {
			globals.AppLogger.Error("websocket sessions did not finish", "error", err)
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			globals.AppLogger.Error("could not shut down http server", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", globalConfig.ServerConfig.Addr, "persistence", globalConfig.PersistenceConfig.Type)
	if globalConfig.ServerConfig.SSLCert != "" && globalConfig.ServerConfig.SSLKey != "" {
		err = httpServer.ListenAndServeTLS(globalConfig.ServerConfig.SSLCert, globalConfig.ServerConfig.SSLKey)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		globals.AppLogger.Error("stopped listening", "error", err)
		return
	}
	<-stopped
}

// dataLockPath returns the lock file guarding the data file of file based backends, "" for everything else.
func dataLockPath(cfg config.PersistenceConfig) string {
	if cfg.FlockPath != "" {
		return cfg.FlockPath
	}
	if cfg.Type != "sqlite" && cfg.Type != "buntdb" {
		return ""
	}
	if cfg.DSN == "" || strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
		return ""
	}
	return strings.TrimPrefix(strings.SplitN(cfg.DSN, "?", 2)[0], "file:") + ".lock"
}
