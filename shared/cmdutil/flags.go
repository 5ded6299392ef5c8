// Package cmdutil defines the command line flags shared across DNA's
// cmd/dna subcommands, in the style of the teacher's shared/cmd flag
// catalog: one exported var per flag, each paired with a DNA_* environment
// variable so deployments can configure a role without a flag file.
package cmdutil

import "github.com/urfave/cli/v2"

var (
	// VerbosityFlag controls logrus's global level.
	VerbosityFlag = &cli.StringFlag{
		Name:    "verbosity",
		Usage:   "logging verbosity (debug, info, warn, error, fatal, panic)",
		Value:   "info",
		EnvVars: []string{"DNA_VERBOSITY"},
	}
	// LogFormatFlag selects between text and json log output.
	LogFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Usage:   "log output format (text, json)",
		Value:   "text",
		EnvVars: []string{"DNA_LOG_FORMAT"},
	}
	// StorageFlag is the object store target, e.g. "file:///var/dna/data",
	// "s3://bucket", "az://account/container", "minio://endpoint/bucket".
	StorageFlag = &cli.StringFlag{
		Name:     "storage",
		Usage:    "object store target URL",
		Required: true,
		EnvVars:  []string{"DNA_STORAGE"},
	}
	// EtcdEndpointsFlag lists the coordination service endpoints.
	EtcdEndpointsFlag = &cli.StringSliceFlag{
		Name:     "etcd",
		Usage:    "coordination service (etcd) endpoints",
		Required: true,
		EnvVars:  []string{"DNA_ETCD"},
	}
	// SegmentSizeFlag is S, the number of blocks per segment.
	SegmentSizeFlag = &cli.Uint64Flag{
		Name:    "segment-size",
		Usage:   "number of blocks per segment",
		Value:   1_000,
		EnvVars: []string{"DNA_SEGMENT_SIZE"},
	}
	// GroupSizeFlag is G, the number of segments per group.
	GroupSizeFlag = &cli.Uint64Flag{
		Name:    "group-size",
		Usage:   "number of segments per group",
		Value:   100,
		EnvVars: []string{"DNA_GROUP_SIZE"},
	}
	// RecentChainSegmentSizeFlag is F, the number of recent hashed cursors
	// kept past finality for reorg resolution.
	RecentChainSegmentSizeFlag = &cli.Uint64Flag{
		Name:    "recent-chain-segment-size",
		Usage:   "number of recent hashed cursors kept past finality",
		Value:   128,
		EnvVars: []string{"DNA_RECENT_CHAIN_SEGMENT_SIZE"},
	}
	// StartingBlockFlag sets ingestor.Options.StartingBlock. The ingestor
	// does not read that field: ingestion follows the chain adapter's heads
	// whether or not a chain view has been persisted.
	StartingBlockFlag = &cli.Uint64Flag{
		Name:    "starting-block",
		Usage:   "starting block number (accepted, not read by the ingestor)",
		EnvVars: []string{"DNA_STARTING_BLOCK"},
	}
	// MaxConcurrentFetchesFlag bounds the ingestor's parallel block fetches.
	MaxConcurrentFetchesFlag = &cli.IntFlag{
		Name:    "max-concurrent-fetches",
		Usage:   "maximum number of blocks fetched concurrently by the ingestor",
		Value:   100,
		EnvVars: []string{"DNA_MAX_CONCURRENT_FETCHES"},
	}
	// CacheDirFlag is the server's local file cache directory.
	CacheDirFlag = &cli.StringFlag{
		Name:    "cache-dir",
		Usage:   "local directory for the segment/group file cache",
		Value:   "/tmp/dna-cache",
		EnvVars: []string{"DNA_CACHE_DIR"},
	}
	// CacheSizeBytesFlag bounds the server's local file cache size.
	CacheSizeBytesFlag = &cli.Int64Flag{
		Name:    "cache-size-bytes",
		Usage:   "maximum bytes resident in the local file cache",
		Value:   8 << 30,
		EnvVars: []string{"DNA_CACHE_SIZE_BYTES"},
	}
	// MaxConcurrentStreamsFlag bounds the server's total active streams.
	MaxConcurrentStreamsFlag = &cli.IntFlag{
		Name:    "max-concurrent-streams",
		Usage:   "maximum number of concurrent client streams",
		Value:   1_000,
		EnvVars: []string{"DNA_MAX_CONCURRENT_STREAMS"},
	}
	// HeartbeatIntervalSecondsFlag is accepted by the server command but not
	// read: a request without a heartbeat interval gets rpcserver's fixed
	// 30-second default, and a requested interval is used as given, with no
	// server-side maximum.
	HeartbeatIntervalSecondsFlag = &cli.IntFlag{
		Name:    "heartbeat-interval-seconds",
		Usage:   "heartbeat interval in seconds (accepted, not read; streams default to 30)",
		Value:   30,
		EnvVars: []string{"DNA_HEARTBEAT_INTERVAL_SECONDS"},
	}
	// RPCAddressFlag is the address the server's gRPC listener binds to.
	RPCAddressFlag = &cli.StringFlag{
		Name:    "rpc-address",
		Usage:   "address the streaming gRPC server listens on",
		Value:   "0.0.0.0:7171",
		EnvVars: []string{"DNA_RPC_ADDRESS"},
	}
	// MetricsAddressFlag is the address the /metrics and /healthz HTTP
	// surface binds to.
	MetricsAddressFlag = &cli.StringFlag{
		Name:    "metrics-address",
		Usage:   "address the metrics and health HTTP server listens on",
		Value:   "0.0.0.0:9090",
		EnvVars: []string{"DNA_METRICS_ADDRESS"},
	}
)

// CommonFlags are the flags every DNA subcommand accepts.
func CommonFlags() []cli.Flag {
	return []cli.Flag{VerbosityFlag, LogFormatFlag, MetricsAddressFlag}
}
