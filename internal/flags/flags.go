package flags

// Package flags defines canonical CLI flag names shared across the CLI
// commands. Keeping these as constants helps avoid drift between Cobra flag
// wiring and the code that copies set flags onto the loaded config.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Meraki.OrgID, flags.FlagOrgID, "", "...")
//	arg := "--" + flags.FlagOrgID
const (
	// Global
	FlagConfig  = "config"
	FlagVerbose = "verbose"

	// Meraki
	FlagOrgID      = "org-id"
	FlagBaseURL    = "base-url"
	FlagAuthScheme = "auth-scheme"
	FlagRate       = "rate"

	// HEC
	FlagHECURL = "hec-url"
	FlagIndex  = "index"
	FlagGzip   = "gzip"
	FlagDryRun = "dry-run"

	// Runtime
	FlagThreads    = "threads"
	FlagTimeout    = "timeout"
	FlagErrorLimit = "error-limit"
	FlagInsecure   = "insecure"

	// Window
	FlagTimespan     = "timespan"
	FlagWindowPolicy = "window-policy"

	// Devices and sampling
	FlagModelPrefix = "model-prefix"
	FlagSample      = "sample"

	// Logging and metrics
	FlagLogFile         = "log-file"
	FlagLogLevel        = "log-level"
	FlagMetricsTextfile = "metrics-textfile"

	// Syslog
	FlagHost       = "host"
	FlagPort       = "port"
	FlagRemoveHost = "remove-host"
	FlagRole       = "role"
)
