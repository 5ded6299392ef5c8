// Command dna runs one of the three DNA roles: ingestion, compaction, or
// the streaming server, in the style of the teacher's cmd/beacon-chain
// entrypoint: a urfave/cli app with one subcommand per role, each wiring
// its flags into the relevant internal package and registering its
// services with a shared svc.Registry plus the metrics/health HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainadapter"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/compactor"
	"github.com/apibara/dna/internal/coordination"
	"github.com/apibara/dna/internal/datastream"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/filecache"
	"github.com/apibara/dna/internal/ingestor"
	"github.com/apibara/dna/internal/metrics"
	"github.com/apibara/dna/internal/objectstore"
	"github.com/apibara/dna/internal/rpcserver"
	"github.com/apibara/dna/internal/segment"
	"github.com/apibara/dna/internal/svc"
	"github.com/apibara/dna/shared/cmdutil"
	"github.com/apibara/dna/shared/logutil"
)

var log = logrus.WithField("prefix", "main")

func main() {
	app := &cli.App{
		Name:  "dna",
		Usage: "Apibara DNA chain-data indexing service",
		Commands: []*cli.Command{
			startIngestionCommand(),
			runCompactionCommand(),
			startServerCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("exiting")
		os.Exit(dnaerr.ExitCode(err))
	}
}

func startIngestionCommand() *cli.Command {
	flags := append(cmdutil.CommonFlags(),
		cmdutil.StorageFlag, cmdutil.EtcdEndpointsFlag,
		cmdutil.SegmentSizeFlag, cmdutil.GroupSizeFlag, cmdutil.RecentChainSegmentSizeFlag,
		cmdutil.StartingBlockFlag, cmdutil.MaxConcurrentFetchesFlag,
	)
	return &cli.Command{
		Name:  "start-ingestion",
		Usage: "tail the chain and write per-block blobs (single leader via etcd lock)",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := bootstrap(c); err != nil {
				return err
			}

			ctx := signalContext()
			objects, err := objectstore.New(ctx, c.String(cmdutil.StorageFlag.Name))
			if err != nil {
				return dnaerr.Wrap(dnaerr.Configuration, err, "open object store")
			}
			etcd, err := coordination.New(coordination.Config{Endpoints: c.StringSlice(cmdutil.EtcdEndpointsFlag.Name)})
			if err != nil {
				return err
			}

			segOpts := segment.Options{SegmentSize: c.Uint64(cmdutil.SegmentSizeFlag.Name), GroupSize: c.Uint64(cmdutil.GroupSizeFlag.Name)}
			store := blockstore.New(objects, segOpts)

			view, err := chainview.Load(ctx, objects, c.Uint64(cmdutil.RecentChainSegmentSizeFlag.Name))
			if err != nil {
				return err
			}

			opts := ingestor.DefaultOptions()
			opts.StartingBlock = c.Uint64(cmdutil.StartingBlockFlag.Name)
			opts.MaxConcurrentFetches = c.Int(cmdutil.MaxConcurrentFetchesFlag.Name)

			// chainadapter.Adapter has no concrete, chain-specific
			// implementation in this module (spec.md section 1's
			// non-goal): EVM/Starknet/Beacon RPC bindings are a
			// deployment concern, injected by whatever binary embeds
			// this package. Until one is registered, ingestion cannot
			// start.
			adapter := registeredAdapter()
			if adapter == nil {
				return dnaerr.New(dnaerr.Configuration, "cmd/dna: no chain adapter registered; start-ingestion requires a build that links one in")
			}

			ing := ingestor.New(adapter, store, objects, etcd, view, opts)

			registry := svc.NewRegistry()
			registry.Register("ingestor", svc.NewRunService(ing.Run))
			metricsSvc := metrics.NewService(c.String(cmdutil.MetricsAddressFlag.Name), registry)
			registry.Register("metrics", metricsSvc)

			return runUntilSignal(ctx, registry)
		},
	}
}

// registeredAdapter returns the chain adapter linked into this binary, if
// any. No chain-specific adapter ships in this module; a deployment that
// needs one replaces this function (or links an adapter package that
// registers itself here) in its own build.
func registeredAdapter() chainadapter.Adapter {
	return nil
}

func runCompactionCommand() *cli.Command {
	flags := append(cmdutil.CommonFlags(),
		cmdutil.StorageFlag, cmdutil.EtcdEndpointsFlag,
		cmdutil.SegmentSizeFlag, cmdutil.GroupSizeFlag,
	)
	return &cli.Command{
		Name:  "run-compaction",
		Usage: "run the segmenter, grouper, and pruner until the process is stopped",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := bootstrap(c); err != nil {
				return err
			}

			ctx := signalContext()
			objects, err := objectstore.New(ctx, c.String(cmdutil.StorageFlag.Name))
			if err != nil {
				return dnaerr.Wrap(dnaerr.Configuration, err, "open object store")
			}
			etcd, err := coordination.New(coordination.Config{Endpoints: c.StringSlice(cmdutil.EtcdEndpointsFlag.Name)})
			if err != nil {
				return err
			}

			segOpts := segment.Options{SegmentSize: c.Uint64(cmdutil.SegmentSizeFlag.Name), GroupSize: c.Uint64(cmdutil.GroupSizeFlag.Name)}
			store := blockstore.New(objects, segOpts)

			view, err := chainview.Load(ctx, objects, 0)
			if err != nil {
				return err
			}

			opts := compactor.DefaultOptions()
			opts.Segment = segOpts
			service := compactor.NewService(store, objects, etcd, view, opts)

			registry := svc.NewRegistry()
			registry.Register("compactor", svc.NewRunService(service.Run))
			metricsSvc := metrics.NewService(c.String(cmdutil.MetricsAddressFlag.Name), registry)
			registry.Register("metrics", metricsSvc)

			return runUntilSignal(ctx, registry)
		},
	}
}

func startServerCommand() *cli.Command {
	flags := append(cmdutil.CommonFlags(),
		cmdutil.StorageFlag, cmdutil.EtcdEndpointsFlag,
		cmdutil.SegmentSizeFlag, cmdutil.GroupSizeFlag,
		cmdutil.CacheDirFlag, cmdutil.CacheSizeBytesFlag,
		cmdutil.MaxConcurrentStreamsFlag, cmdutil.HeartbeatIntervalSecondsFlag,
		cmdutil.RPCAddressFlag,
	)
	return &cli.Command{
		Name:  "start-server",
		Usage: "serve the per-client streaming RPC over the sealed and in-flight chain data",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := bootstrap(c); err != nil {
				return err
			}

			ctx := signalContext()
			objects, err := objectstore.New(ctx, c.String(cmdutil.StorageFlag.Name))
			if err != nil {
				return dnaerr.Wrap(dnaerr.Configuration, err, "open object store")
			}

			segOpts := segment.Options{SegmentSize: c.Uint64(cmdutil.SegmentSizeFlag.Name), GroupSize: c.Uint64(cmdutil.GroupSizeFlag.Name)}
			store := blockstore.New(objects, segOpts)

			view, err := chainview.Load(ctx, objects, c.Uint64(cmdutil.RecentChainSegmentSizeFlag.Name))
			if err != nil {
				return err
			}

			cache, err := filecache.New(objects, c.String(cmdutil.CacheDirFlag.Name), c.Int64(cmdutil.CacheSizeBytesFlag.Name))
			if err != nil {
				return err
			}

			// No chain-specific EntryMatcher is wired here: entry-level
			// body decoding is a chain adapter concern (spec.md section
			// 1's non-goal), left for a concrete deployment to supply.
			dataServer := datastream.NewServer(store, cache, view, segOpts, nil, c.Int(cmdutil.MaxConcurrentStreamsFlag.Name))
			rpc := rpcserver.New(c.String(cmdutil.RPCAddressFlag.Name), dataServer)

			registry := svc.NewRegistry()
			registry.Register("rpc", rpc)
			metricsSvc := metrics.NewService(c.String(cmdutil.MetricsAddressFlag.Name), registry)
			registry.Register("metrics", metricsSvc)

			return runUntilSignal(ctx, registry)
		},
	}
}

// bootstrap applies the common flags (verbosity, log format) every
// subcommand shares before any service starts.
func bootstrap(c *cli.Context) error {
	if err := logutil.ConfigureVerbosity(c.String(cmdutil.VerbosityFlag.Name)); err != nil {
		return dnaerr.Wrap(dnaerr.Configuration, err, "configure verbosity")
	}
	if c.String(cmdutil.LogFormatFlag.Name) == "json" {
		logutil.ConfigureJSON()
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the way
// every long-running DNA role shuts down cleanly.
func signalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_ = stop
	return ctx
}

// runUntilSignal starts every registered service and blocks until ctx is
// cancelled, then stops them in reverse order.
func runUntilSignal(ctx context.Context, registry *svc.Registry) error {
	registry.StartAll()
	<-ctx.Done()
	log.Info("shutting down")
	if err := registry.StopAll(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
