package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count the tenant's diplomas per status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Store.Stats(cmd.Context(), tenant)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, stats)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, st := range diploma.AllStatuses {
		fmt.Fprintf(w, "%s\t%d\n", ui.Status(string(st)), stats.ByStatus[st])
	}
	fmt.Fprintf(w, "%s\t%d\n", ui.Bold("TOTAL"), stats.Total)
	if err := w.Flush(); err != nil {
		return err
	}
	if reason, halted, err := a.Audit.Halted(cmd.Context(), tenant); err == nil && halted {
		ui.Warnf("audit log halted: %s", reason)
	}
	return nil
}
