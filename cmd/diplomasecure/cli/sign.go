package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/ledger"
	"github.com/wangue52/diploma-secure/internal/ui"
)

var (
	signSigner       string
	signRole         string
	signTitle        string
	signSignatureRef string
	signStampRef     string
)

var signCmd = &cobra.Command{
	Use:   "sign <diploma-id>...",
	Short: "Append a signature to one or more diplomas",
	Long: `Append the signer's signature. The diploma moves to PARTIALLY_SIGNED, or to
SIGNED once the tenant's required signature count is reached.

With several ids each diploma is signed independently: one rejection does
not undo the others, and the command reports every outcome.

Example:
  diplomasecure sign DIP-... --signer dean-1 --role DEAN \
    --title "Dean of Sciences" --signature-ref sig://dean-1/2024`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSign,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List diplomas still awaiting a signer's signature",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(pendingCmd)

	f := signCmd.Flags()
	f.StringVar(&signSigner, "signer", "", "signer id (default --actor)")
	f.StringVar(&signRole, "role", "", "signer role, e.g. RECTOR or DEAN")
	f.StringVar(&signTitle, "title", "", "signer title shown on the diploma")
	f.StringVar(&signSignatureRef, "signature-ref", "", "reference to the signature artifact")
	f.StringVar(&signStampRef, "stamp-ref", "", "reference to the stamp artifact")
	_ = signCmd.MarkFlagRequired("role")

	pendingCmd.Flags().StringVar(&signSigner, "signer", "", "signer id (default --actor)")
}

func resolveSigner() (string, error) {
	if signSigner != "" {
		return signSigner, nil
	}
	if actorID != "" {
		return actorID, nil
	}
	return "", errors.New("--signer or --actor is required")
}

func runSign(cmd *cobra.Command, args []string) error {
	signer, err := resolveSigner()
	if err != nil {
		return err
	}
	role, err := diploma.ParseRole(signRole)
	if err != nil {
		return err
	}
	art := diploma.Artifact{SignerTitle: signTitle, SignatureRef: signSignatureRef, StampRef: signStampRef}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		r, err := a.Ledger.AppendSignature(cmd.Context(), args[0], signer, role, art)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(out, r)
		}
		fmt.Fprintf(out, "Signed %s (%s, %d signature(s))\n", r.ID, ui.Status(string(r.Status)), len(r.Signatures))
		return nil
	}

	outcomes, err := a.Ledger.BulkSign(cmd.Context(), args, signer, role, art)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(out, outcomes)
	}

	rejected := 0
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIPLOMA\tOUTCOME\tDETAIL")
	for _, o := range outcomes {
		switch o.Outcome {
		case ledger.OutcomeSucceeded:
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.DiplomaID, ui.OKTag()+" signed", o.Diploma.Status)
		case ledger.OutcomeAlreadySigned:
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.DiplomaID, ui.Yellow("already signed"), "")
		default:
			rejected++
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.DiplomaID, ui.FailTag()+" rejected", o.Reason)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d signature(s) rejected", rejected, len(outcomes))
	}
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	signer, err := resolveSigner()
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Ledger.PendingForSigner(cmd.Context(), tenant, signer)
	if err != nil {
		return err
	}
	if jsonOut {
		if records == nil {
			records = []*diploma.Record{}
		}
		return writeJSON(cmd.OutOrStdout(), records)
	}
	return printRecords(cmd.OutOrStdout(), records)
}
