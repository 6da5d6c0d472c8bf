package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/batmaniv/batmand/agent"
)

var showRoutesCmd = &cobra.Command{
	Use:     "showroutes",
	Aliases: []string{"routes"},
	Short:   "Dump the live routing table of a running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cmd.Flag("debug-addr").Value.String()
		client := http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/debug/routes", addr))
		if err != nil {
			return fmt.Errorf("showroutes: fetching %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var routes []agent.RouteSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
			return fmt.Errorf("showroutes: decoding response: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DESTINATION\tNEXT HOP\tTQ\tGATEWAY")
		for _, r := range routes {
			fmt.Fprintf(tw, "%s\t%s\t%.3f\t%v\n", r.Destination, r.NextHop, r.TQ, r.Gateway)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(showRoutesCmd)
	showRoutesCmd.Flags().String("debug-addr", debugAddr, "address of the running agent's debug endpoint")
}
