package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/sidechain-registry/api/callerauth"
	"github.com/ruteri/sidechain-registry/api/handlers"
	"github.com/ruteri/sidechain-registry/api/servers"
	"github.com/ruteri/sidechain-registry/cmd/flags"
	"github.com/ruteri/sidechain-registry/common"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/metrics"
	"github.com/ruteri/sidechain-registry/registry"
	"github.com/ruteri/sidechain-registry/storage"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var (
	flagOwner = &cli.StringFlag{
		Name:  "owner",
		Usage: "owner address of a new registry; ignored when restoring a snapshot",
	}
	flagStorageURI = &cli.StringSliceFlag{
		Name:  "storage-uri",
		Usage: "snapshot storage location (file://, s3://, ipfs://, vault://), repeatable",
	}
	flagMinReplicas = &cli.IntFlag{
		Name:  "min-replicas",
		Value: 1,
		Usage: "storage locations that must accept a checkpoint for it to succeed",
	}
	flagRestoreSnapshot = &cli.StringFlag{
		Name:  "restore-snapshot",
		Usage: "content id of a snapshot to restore on start",
	}
	flagCheckpointOnShutdown = &cli.BoolFlag{
		Name:  "checkpoint-on-shutdown",
		Value: true,
		Usage: "store a snapshot before exiting",
	}
	flagArchiveSegment = &cli.IntFlag{
		Name:  "archive-segment",
		Value: 0,
		Usage: "archive the notification log in segments of this many entries, 0 to disable",
	}
)

func serverFlags() []cli.Flag {
	fs := []cli.Flag{flags.ConfigFileFlag}
	fs = append(fs, flags.ServerFlags...)
	return append(fs,
		altsrc.NewStringFlag(flagOwner),
		altsrc.NewStringSliceFlag(flagStorageURI),
		altsrc.NewIntFlag(flagMinReplicas),
		altsrc.NewStringFlag(flagRestoreSnapshot),
		altsrc.NewBoolFlag(flagCheckpointOnShutdown),
		altsrc.NewIntFlag(flagArchiveSegment),
	)
}

func main() {
	fs := serverFlags()
	app := &cli.App{
		Name:    "registry-server",
		Usage:   "Serve the sidechain registry API",
		Version: common.Version,
		Flags:   fs,
		Before:  flags.LoadConfigFile(fs),
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger)

	checkpointer, err := setupCheckpointer(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure storage", "err", err)
		return err
	}

	reg, err := setupRegistry(cCtx, checkpointer, logger)
	if err != nil {
		logger.Error("Failed to initialize registry", "err", err)
		return err
	}

	resolver, err := callerauth.NewResolver(callerauth.Mode(cfg.CallerAuth))
	if err != nil {
		logger.Error("Invalid caller-auth", "err", err)
		return err
	}

	var (
		metricsSrv *metrics.MetricsServer
		opts       []handlers.Option
		srvMetrics servers.MetricsServer
	)
	if cfg.MetricsAddr != "" {
		metricsSrv, err = metrics.New(common.PackageName, cfg.MetricsAddr)
		if err != nil {
			logger.Error("Failed to create metrics server", "err", err)
			return err
		}
		metricsSrv.SetNotificationHead(reg.NotificationLog().Head())
		opts = append(opts, handlers.WithMetrics(metricsSrv))
		srvMetrics = metricsSrv
	}
	if checkpointer != nil {
		opts = append(opts, handlers.WithCheckpoint(func(ctx context.Context) (interfaces.ContentID, error) {
			return checkpointer.Checkpoint(ctx, reg)
		}))
	}

	server, err := servers.New(cfg, handlers.NewHandler(reg, logger, opts...), resolver, srvMetrics)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	archiverReady := make(chan struct{})
	archiverDone := make(chan struct{})
	// No mutations happen before the server starts, so the baseline matches the archiver's cursor.
	archiver := registry.NewArchiver(reg, checkpointer, cCtx.Int(flagArchiveSegment.Name),
		metricsSrv.NotificationObserver(len(reg.Sidechains())), logger.With("component", "archiver"))
	go func() {
		defer close(archiverDone)
		archiver.Run(ctx, archiverReady)
	}()
	<-archiverReady

	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop", "owner", reg.Owner(), "callerAuth", cfg.CallerAuth)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	cancel()
	<-archiverDone

	if checkpointer != nil && cCtx.Bool(flagCheckpointOnShutdown.Name) {
		checkpointCtx, cancelCheckpoint := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelCheckpoint()
		id, err := checkpointer.Checkpoint(checkpointCtx, reg)
		metricsSrv.ObserveCheckpoint(err)
		if err != nil {
			logger.Error("Final checkpoint failed", "err", err)
			return err
		}
		logger.Info("Final checkpoint stored", "content_id", id.String())
	}

	logger.Info("Server shutdown complete")
	return nil
}

// setupCheckpointer returns nil when no storage location is configured.
func setupCheckpointer(cCtx *cli.Context, logger *slog.Logger) (*registry.Checkpointer, error) {
	uris := cCtx.StringSlice(flagStorageURI.Name)
	if len(uris) == 0 {
		return nil, nil
	}

	locations, err := storage.ParseLocations(uris)
	if err != nil {
		return nil, err
	}

	factory := storage.NewStorageBackendFactory(logger, cCtx.Int(flagMinReplicas.Name))
	backend, err := factory.CreateMultiBackend(locations)
	if err != nil {
		return nil, err
	}
	return registry.NewCheckpointer(backend, logger.With("component", "checkpointer")), nil
}

func setupRegistry(cCtx *cli.Context, checkpointer *registry.Checkpointer, logger *slog.Logger) (*registry.Registry, error) {
	if raw := cCtx.String(flagRestoreSnapshot.Name); raw != "" {
		if checkpointer == nil {
			return nil, errors.New("restore-snapshot requires at least one storage-uri")
		}
		id, err := interfaces.NewContentIDFromHex(raw)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snapshot, err := checkpointer.Load(ctx, id)
		if err != nil {
			return nil, err
		}

		logger.Info("Restoring registry from snapshot", "content_id", id.String())
		return registry.Restore(snapshot, logger.With("component", "registry"))
	}

	owner, err := interfaces.NewIdentityFromHex(cCtx.String(flagOwner.Name))
	if err != nil {
		return nil, errors.New("owner is required for a new registry: " + err.Error())
	}
	return registry.New(owner, logger.With("component", "registry"))
}
