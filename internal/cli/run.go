package cli

import (
	"github.com/spf13/cobra"
)

var (
	runFlags  overrides
	lossFlags overrides
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect networks, devices, loss/latency and clients and forward them",
	Long: `Run the full collection pipeline for one organization.

Stages run in order; stages 4-6 fan out over devices on --threads workers:
	1. networks        one batch of meraki_api_network events
	2. device statuses org-wide status lookup
	3. devices         paged org-wide device list
	4. device details  uplinks (+ performance for --model-prefix devices)
	5. loss/latency    per uplink for --model-prefix devices
	6. clients         per device over --timespan

Transient failures (5xx, timeouts) are retried with backoff and counted. When
the count passes --error-limit the run stops at once and logs INCOMPLETE.

Authentication:
	MERAKI_API_KEY  Meraki dashboard API key (or meraki.api_key in the config)
	HEC_TOKEN       collector token (or hec.token in the config)

Examples:
	merakihec run --config /etc/merakihec.yaml
	merakihec run --config /etc/merakihec.yaml --sample --dry-run
	merakihec run --org-id 123456 --hec-url https://splunk:8088 --gzip
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd, &runFlags)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.engine.Run(s.ctx); err != nil {
			return runError(err)
		}
		return nil
	},
}

var lossCmd = &cobra.Command{
	Use:   "loss",
	Short: "Forward org-wide uplink loss and latency for the last few minutes",
	Long: `Fetch uplink loss and latency for every appliance in the organization
over a lagged window (ending window.lag seconds ago, window.span seconds long)
and forward it as one batch of meraki_api_device_loss_and_latency events.

Run it from cron every window.span seconds.

Examples:
	merakihec loss --config /etc/merakihec.yaml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd, &lossFlags)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.engine.RunLoss(s.ctx); err != nil {
			return runError(err)
		}
		return nil
	},
}

// startSession loads and validates the config for a forwarding command and
// wires the session. Any failure here is a configuration error.
func startSession(cmd *cobra.Command, o *overrides) (*session, error) {
	cfg, err := loadConfig(cmd, o)
	if err != nil {
		return nil, configError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configError(err)
	}
	s, err := newSession(cmd, cfg, true)
	if err != nil {
		return nil, configError(err)
	}
	s.banner()
	return s, nil
}

func init() {
	rootCmd.AddCommand(runCmd, lossCmd)

	runFlags.addAPIFlags(runCmd.Flags())
	runFlags.addHECFlags(runCmd.Flags())
	runFlags.addCollectionFlags(runCmd.Flags())

	lossFlags.addAPIFlags(lossCmd.Flags())
	lossFlags.addHECFlags(lossCmd.Flags())
}
