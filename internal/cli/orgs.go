package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"merakihec/internal/data"
)

var orgsFlags overrides

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "List the organizations visible to the API key",
	Long: `List the organizations the Meraki API key can see, with their ids.

Use the id as meraki.org_id (or --org-id) for the other commands.

Examples:
	MERAKI_API_KEY="<key>" merakihec orgs
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, &orgsFlags)
		if err != nil {
			return configError(err)
		}
		if err := cfg.ValidateAPI(); err != nil {
			return configError(err)
		}
		s, err := newSession(cmd, cfg, false)
		if err != nil {
			return configError(err)
		}
		defer s.Close()

		orgs, err := s.engine.ListOrganizations(s.ctx)
		if err != nil {
			return runError(err)
		}
		return printOrgs(cmd.OutOrStdout(), orgs)
	},
}

// printOrgs writes an aligned id/name table.
func printOrgs(w io.Writer, orgs []data.Record) error {
	if len(orgs) == 0 {
		_, err := fmt.Fprintln(w, "No organizations found.")
		return err
	}
	id := color.New(color.FgCyan)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", id.Sprint("ID"), color.New(color.Bold).Sprint("NAME"))
	for _, org := range orgs {
		fmt.Fprintf(tw, "%s\t%s\n", id.Sprint(org.Text("id")), org.Text("name"))
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(orgsCmd)
	orgsFlags.addAPIFlags(orgsCmd.Flags())
}
