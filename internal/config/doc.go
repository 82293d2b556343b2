// Package config defines configuration structures for the ontrack-etl CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (ONTRACK_ prefix, plus the legacy BUCKET_RAW
//     and BUCKET_TRUSTED names)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Structure
//
//	type Config struct {
//	    RawBucket     string
//	    TrustedBucket string
//	    TimeZone      string
//	    Lag           time.Duration
//	    StagingDir    string
//	    Workers       int
//	    RunTimeout    time.Duration
//	    Sources       []string
//	    LogLevel      string
//	    ListenAddr    string
//	    Schedule      time.Duration
//	    Progress      bool
//	    Store         StoreConfig
//	}
//
//	type StoreConfig struct {
//	    RateLimit       float64
//	    Burst           int
//	    RetryAttempts   int
//	    RetryBackoff    time.Duration
//	    RetryMaxBackoff time.Duration
//	}
package config
