package context

// CTXKey - a type for context keys
type CTXKey string

const (
	// ServiceKey - the key used for service context
	ServiceKey CTXKey = "service"
	// EnvironmentCTXKey - the key used for the deployment environment
	EnvironmentCTXKey CTXKey = "environment"
	// LogLevelCTXKey - context key for application logging level
	LogLevelCTXKey CTXKey = "log_level"
	// LogWriterCTXKey - context key for the log writer
	LogWriterCTXKey CTXKey = "log_writer"
	// DebugLoggingCTXKey - context key for debug logging
	DebugLoggingCTXKey CTXKey = "debug_logging"
	// VersionCTXKey - context key for version of code
	VersionCTXKey CTXKey = "version"
	// CommitCTXKey - context key for the commit of the code
	CommitCTXKey CTXKey = "commit"
	// BuildTimeCTXKey - context key for the build time of code
	BuildTimeCTXKey CTXKey = "build_time"
	// DocumentLoaderCTXKey - context key for the json-ld document loader
	DocumentLoaderCTXKey CTXKey = "document_loader"
	// DocumentCacheExpiryDurationCTXKey - context key for document loader cache expiry
	DocumentCacheExpiryDurationCTXKey CTXKey = "document_cache_expiry"
	// DocumentCachePurgeDurationCTXKey - context key for document loader cache purge
	DocumentCachePurgeDurationCTXKey CTXKey = "document_cache_purge"
)
