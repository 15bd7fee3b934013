package cli

import (
	"github.com/spf13/cobra"

	"merakihec/internal/syslog"
)

var syslogFlags overrides

var syslogCmd = &cobra.Command{
	Use:   "syslog",
	Short: "Point every network at a syslog server",
	Long: `Configure a syslog server on every network of the organization.

For each network the existing servers are read and rewritten:
	- servers on --remove-host are dropped
	- any server on --host is replaced by --host:--port with the given roles
	- --host:--port is added once
	- every other server is kept

Examples:
	merakihec syslog --config /etc/merakihec.yaml --host 10.0.0.5 --port 514
	merakihec syslog --org-id 123456 --host 10.0.0.5 --remove-host 10.0.0.9 --role Flows --role URLs
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, &syslogFlags)
		if err != nil {
			return configError(err)
		}
		if err := cfg.ValidateSyslog(); err != nil {
			return configError(err)
		}
		s, err := newSession(cmd, cfg, false)
		if err != nil {
			return configError(err)
		}
		defer s.Close()
		s.banner()

		target := syslog.Target{
			Host:       cfg.Syslog.Host,
			Port:       cfg.Syslog.Port,
			Roles:      cfg.Syslog.Roles,
			RemoveHost: cfg.Syslog.RemoveHost,
		}
		if err := s.engine.ConfigureSyslog(s.ctx, target); err != nil {
			return runError(err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syslogCmd)
	syslogFlags.addAPIFlags(syslogCmd.Flags())
	syslogFlags.addSyslogFlags(syslogCmd.Flags())
}
