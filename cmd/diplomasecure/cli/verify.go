package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/ui"
)

var verifyPublic bool

var verifyCmd = &cobra.Command{
	Use:   "verify <diploma-id>",
	Short: "Check whether a diploma is authentic",
	Long: `Look up a diploma the way a third party would. A cancelled diploma is
followed to its current replacement; the answer describes the newest record.

With --public the output is limited to what the public endpoint discloses.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyPublic, "public", false, "show the redacted public view")
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Verifier.Verify(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if verifyPublic {
			return writeJSON(out, res.Public(time.Now().UTC()))
		}
		return writeJSON(out, res)
	}

	if !res.Found {
		fmt.Fprintf(out, "%s no diploma with id %s\n", ui.FailTag(), res.QueriedID)
		return fmt.Errorf("diploma not found")
	}

	r := res.Diploma
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Queried:\t%s\n", res.QueriedID)
	if len(res.CancelledChain) > 0 {
		fmt.Fprintf(w, "Cancelled:\t%s\n", strings.Join(res.CancelledChain, " -> "))
		fmt.Fprintf(w, "Current:\t%s\n", r.ID)
	}
	fmt.Fprintf(w, "Student:\t%s (%s)\n", r.StudentName, r.StudentMatricule)
	fmt.Fprintf(w, "Program:\t%s, %s %s\n", r.Program, r.AcademicLevel, r.Session)
	fmt.Fprintf(w, "Status:\t%s\n", ui.Status(string(r.Status)))
	for _, s := range r.Signatures {
		who := string(s.SignerRole)
		if s.SignerTitle != "" {
			who += " (" + s.SignerTitle + ")"
		}
		if verifyPublic {
			fmt.Fprintf(w, "Signed by:\t%s on %s\n", who, formatTime(s.SignedAt))
		} else {
			fmt.Fprintf(w, "Signed by:\t%s %s on %s\n", s.SignerID, who, formatTime(s.SignedAt))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)

	if res.IsAuthentic {
		fmt.Fprintln(out, "VERDICT: "+ui.Check(true, "AUTHENTIC"))
		return nil
	}
	fmt.Fprintln(out, "VERDICT: "+ui.Check(false, "NOT AUTHENTIC"))
	return fmt.Errorf("diploma %s is not authentic (status %s)", r.ID, r.Status)
}
