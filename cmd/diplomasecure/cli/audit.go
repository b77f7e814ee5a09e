package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/ui"
)

var (
	auditExportFile string
	auditNoAttest   bool
	auditLogDiploma string
	auditLogAfter   uint64
	auditLogLimit   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify a tenant's audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the tenant's audit chain",
	Long: `Recompute every entry hash of the tenant's audit chain and check the links.

A broken chain halts writes for the tenant until an operator runs
'diplomasecure audit release' after investigating.

Example:
  diplomasecure audit verify -t univ-a`,
	Args: cobra.NoArgs,
	RunE: runAuditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the tenant's audit chain as a signed proof bundle",
	Long: `Export the tenant's audit chain with its Merkle root. Unless --no-attest is
given, the chain head is signed with the tenant's attestation key.

Example:
  diplomasecure audit export -t univ-a -o univ-a.proof.json`,
	Args: cobra.NoArgs,
	RunE: runAuditExport,
}

var verifyBundleCmd = &cobra.Command{
	Use:   "verify-bundle <file>",
	Short: "Verify a proof bundle file",
	Long: `Verifies the integrity of an exported proof bundle without the database.

Example:
  diplomasecure audit verify-bundle ./univ-a.proof.json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyBundle,
}

var auditReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Lift the write halt on a tenant after investigation",
	Args:  cobra.NoArgs,
	RunE:  runAuditRelease,
}

var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditLog,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditExportCmd, verifyBundleCmd, auditReleaseCmd, auditLogCmd)

	auditExportCmd.Flags().StringVarP(&auditExportFile, "output", "o", "", "write the bundle to file instead of stdout")
	auditExportCmd.Flags().BoolVar(&auditNoAttest, "no-attest", false, "skip signing the chain head")

	auditLogCmd.Flags().StringVar(&auditLogDiploma, "diploma", "", "only entries about this diploma")
	auditLogCmd.Flags().Uint64Var(&auditLogAfter, "after", 0, "only entries after this sequence number")
	auditLogCmd.Flags().IntVar(&auditLogLimit, "limit", 50, "maximum entries to show (0 = all)")
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Audit.VerifyChain(cmd.Context(), tenant)
	if err != nil {
		return fmt.Errorf("verification error: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		if err := writeJSON(out, result); err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("tampering detected")
		}
		return nil
	}

	ui.Section(out, "Auditing tenant: "+tenant)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Log Integrity")
	if result.HashChainValid {
		fmt.Fprintf(out, "  %s\n", ui.Check(true, fmt.Sprintf("Hash chain: %d entries, no gaps, all hashes valid", result.EntryCount)))
	} else {
		fmt.Fprintf(out, "  %s\n", ui.Check(false, fmt.Sprintf("Hash chain: INVALID after %d entries", result.EntryCount)))
	}
	fmt.Fprintln(out)

	if result.Valid {
		fmt.Fprintln(out, "VERDICT: "+ui.Check(true, "INTACT - No tampering detected"))
		return nil
	}
	fmt.Fprintf(out, "VERDICT: %s\n", ui.Check(false, "TAMPERED - "+result.Error))
	ui.Warnf("writes for tenant %s are halted until 'diplomasecure audit release'", tenant)
	return fmt.Errorf("tampering detected")
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var signer *audit.Signer
	if !auditNoAttest {
		if signer, err = a.AttestationSigner(cmd.Context(), tenant); err != nil {
			return err
		}
	}
	bundle, err := a.Audit.Export(cmd.Context(), tenant, signer)
	if err != nil {
		return fmt.Errorf("exporting bundle: %w", err)
	}

	if auditExportFile == "" {
		return writeJSON(cmd.OutOrStdout(), bundle)
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bundle: %w", err)
	}
	if err := os.WriteFile(auditExportFile, data, 0o644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	ui.Infof("Proof bundle exported to: %s (%d entries)", auditExportFile, len(bundle.Entries))
	return nil
}

func runVerifyBundle(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}
	var bundle audit.ProofBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parsing bundle: %w", err)
	}

	result := bundle.Verify()
	out := cmd.OutOrStdout()
	if jsonOut {
		if err := writeJSON(out, result); err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("bundle verification failed")
		}
		return nil
	}
	printBundleResult(out, &bundle, result)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("bundle verification failed")
}

func printBundleResult(out io.Writer, bundle *audit.ProofBundle, result *audit.Result) {
	ui.Section(out, "Proof Bundle Verification")
	fmt.Fprintf(out, "Tenant: %s\n", bundle.TenantID)
	fmt.Fprintf(out, "Bundle Version: %d\n", bundle.Version)
	fmt.Fprintf(out, "Created: %s\n", bundle.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(out, "Entries: %d\n", result.EntryCount)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Log Integrity")
	fmt.Fprintf(out, "  %s\n", ui.Check(result.HashChainValid, "Hash chain"))
	root := bundle.MerkleRoot
	if len(root) >= 16 {
		root = root[:16] + "..."
	}
	fmt.Fprintf(out, "  %s\n", ui.Check(result.MerkleRootValid, "Merkle root: "+root))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Attestation")
	if bundle.Attestation == nil {
		fmt.Fprintln(out, "  - No attestation in bundle")
	} else {
		fmt.Fprintf(out, "  %s\n", ui.Check(result.AttestationValid, fmt.Sprintf("Ed25519 signature over seq %d", bundle.Attestation.Sequence)))
	}
	fmt.Fprintln(out)

	if result.Valid {
		fmt.Fprintln(out, "VERDICT: "+ui.Check(true, "VALID"))
		return
	}
	fmt.Fprintln(out, "VERDICT: "+ui.Check(false, "TAMPERED - "+result.Error))
}

func runAuditRelease(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	who, err := requireActor()
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Audit.Release(cmd.Context(), tenant, who); err != nil {
		return err
	}
	ui.Infof("Released audit halt for tenant %s", tenant)
	return nil
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var entries []*audit.Entry
	if auditLogDiploma != "" {
		entries, err = a.Audit.ForSubject(cmd.Context(), tenant, auditLogDiploma)
	} else {
		entries, err = a.Audit.Entries(cmd.Context(), tenant, auditLogAfter, auditLogLimit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if entries == nil {
			entries = []*audit.Entry{}
		}
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tACTION\tACTOR\tSUBJECT\tHASH")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence,
			formatTime(e.Timestamp),
			e.Action,
			e.ActorID,
			e.SubjectID,
			ui.Dim(shortHash(e.Hash)),
		)
	}
	return w.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
