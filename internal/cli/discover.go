package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/pulselight/internal/adapters/yeelight"
	"github.com/ewilliams-labs/pulselight/internal/platform/config"
)

var (
	discoverTimeout time.Duration
	discoverWrite   bool
	discoverMusic   bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search the LAN for Yeelight bulbs",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := discoverTimeout
		if timeout <= 0 {
			timeout = cfg.DiscoverTimeout
		}
		found, err := yeelight.NewDiscoverer("", log).Discover(cmd.Context(), timeout)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(found) == 0 {
			fmt.Fprintln(out, "no bulbs answered")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tHOST\tPORT\tMODEL\tNAME\tPOWER")
		for _, f := range found {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", f.ID, f.Host, f.Port, f.Model, f.Name, f.Power)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if !discoverWrite {
			return nil
		}
		if err := config.WriteDevices(cfg.DevicesFile, inventoryFromDiscovery(found, discoverMusic)); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d device(s) to %s\n", len(found), cfg.DevicesFile)
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "how long to wait for replies (default DISCOVER_TIMEOUT_MS)")
	discoverCmd.Flags().BoolVar(&discoverWrite, "write", false, "save the result to DEVICES_FILE")
	discoverCmd.Flags().BoolVar(&discoverMusic, "music", true, "mark written bulbs for music mode")
	rootCmd.AddCommand(discoverCmd)
}
