package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"merakihec/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "merakihec",
	Short: "Poll the Meraki dashboard API and forward records to an HTTP Event Collector",
	Long: `merakihec polls the Meraki dashboard API for networks, devices, uplinks,
loss/latency history and clients, and forwards every record as an event to a
Splunk-compatible HTTP Event Collector.

It is meant to run from cron. Each run ends with one line in the log:
"DONE. Total elapsed seconds: N" or "INCOMPLETE. Total elapsed seconds: N".

Examples:
	# Find the organization id for the API key
	export MERAKI_API_KEY="<key>"
	merakihec orgs

	# Full collection run
	export HEC_TOKEN="<token>"
	merakihec run --config /etc/merakihec.yaml

	# Print events instead of posting them
	merakihec run --config /etc/merakihec.yaml --dry-run

	# Org-wide uplink loss and latency only
	merakihec loss --config /etc/merakihec.yaml

Exit codes:
	0 = run finished (DONE)
	1 = run aborted (INCOMPLETE)
	3 = configuration error (nothing ran)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, flags.FlagConfig, "", "Config file (.yaml, .yml, .json or .jsonc)")
	rootCmd.PersistentFlags().BoolVar(&verbose, flags.FlagVerbose, false, "Tee debug logs and every Meraki API call to stderr")
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error {
	return &exitError{code: 3, err: err}
}

func runError(err error) error {
	return &exitError{code: 1, err: err}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
