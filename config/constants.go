package config

// Storage defaults
const (
	// DefaultDatabaseDriver is the embedded SQLite driver
	DefaultDatabaseDriver = "sqlite"

	// DefaultDatabaseURL is the SQLite file created next to the binary
	DefaultDatabaseURL = "feedtriage.db"

	// DefaultSourcesFile lists the feeds and keywords loaded by setup
	DefaultSourcesFile = "sources.json"

	// DefaultConfigFile is read when present and no path is given
	DefaultConfigFile = "feedtriage.yaml"
)

// Deduplication defaults
const (
	// DefaultWindowHours bounds how far back the duplicate cache looks
	DefaultWindowHours = 72

	// DefaultMaxEntries caps the duplicate cache
	DefaultMaxEntries = 1000

	// DefaultStaleSeconds is how long a cache snapshot is trusted
	DefaultStaleSeconds = 300

	// DefaultThreshold is the live ingestion similarity cut-off
	DefaultThreshold = 0.6

	// DefaultBatchThreshold is the cut-off used when grouping a processing batch
	DefaultBatchThreshold = 0.5
)

// Fetch defaults
const (
	// DefaultFetchWorkers is the number of sources fetched at once
	DefaultFetchWorkers = 8

	// DefaultFetchTimeoutSeconds is the per-request HTTP timeout
	DefaultFetchTimeoutSeconds = 15

	// DefaultFetchRatePerSecond paces source starts
	DefaultFetchRatePerSecond = 4.0

	// DefaultEnrichWorkers is the readability worker pool size
	DefaultEnrichWorkers = 5
)

// Bloom filter defaults
const (
	DefaultBloomKey        = "articles:bloom"
	DefaultBloomTTLSeconds = 24 * 60 * 60
	DefaultBloomCapacity   = 100000
	DefaultBloomErrorRate  = 0.001
)

// Kafka defaults
const (
	// DefaultKafkaTopic receives the items selected by process
	DefaultKafkaTopic = "news.selected"

	// DefaultKafkaInputTopic is consumed by stream
	DefaultKafkaInputTopic = "news.raw"

	// DefaultKafkaGroupID is the stream consumer group
	DefaultKafkaGroupID = "feedtriage"
)

// Server defaults
const (
	DefaultPort     = "8080"
	DefaultLogLevel = "info"
)
