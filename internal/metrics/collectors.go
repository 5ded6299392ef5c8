package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestor metrics, grounded on the reference implementation's
// ingestion/metrics.rs counters.
var (
	IngestedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_ingestor_blocks_total",
		Help: "Total number of blocks ingested.",
	})
	IngestorReorgs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_ingestor_reorgs_total",
		Help: "Total number of reorgs observed by the ingestor.",
	})
	IngestorHead = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dna_ingestor_head",
		Help: "Current chain head block number as seen by the ingestor.",
	})
)

// Compactor metrics, grounded on compaction/metrics.rs.
var (
	SegmentedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_compactor_segmented_blocks_total",
		Help: "Total number of blocks folded into sealed segments.",
	})
	GroupedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_compactor_grouped_blocks_total",
		Help: "Total number of blocks folded into sealed segment groups.",
	})
	PrunedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_compactor_pruned_blocks_total",
		Help: "Total number of per-block blobs deleted by the pruner.",
	})
)

// Data stream metrics, grounded on data_stream/metrics.rs.
var (
	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dna_server_active_streams",
		Help: "Number of currently active client streams.",
	})
	StreamedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dna_server_messages_total",
		Help: "Total number of messages sent to clients, by kind.",
	}, []string{"kind"})
	FilterEvaluationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dna_server_filter_evaluation_seconds",
		Help:    "Time spent evaluating a client's filter set against one candidate block.",
		Buckets: prometheus.DefBuckets,
	})
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_server_cache_hits_total",
		Help: "Total number of file cache hits.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dna_server_cache_misses_total",
		Help: "Total number of file cache misses.",
	})
)

func init() {
	prometheus.MustRegister(
		IngestedBlocks, IngestorReorgs, IngestorHead,
		SegmentedBlocks, GroupedBlocks, PrunedBlocks,
		ActiveStreams, StreamedMessages, FilterEvaluationSeconds, CacheHits, CacheMisses,
	)
}
