package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/ui"
)

var (
	createMatricule string
	createName      string
	createProgram   string
	createSession   string
	createLevel     string
	createStatus    string
	createMeta      []string

	listStatuses []string

	transitionFrom string
	transitionTo   string
)

var diplomaCmd = &cobra.Command{
	Use:     "diploma",
	Aliases: []string{"diplomas"},
	Short:   "Create and inspect diplomas",
}

var diplomaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a diploma",
	Long: `Create a diploma for the tenant. New diplomas start in DRAFT unless
--status selects another initial status.

Example:
  diplomasecure diploma create -t univ-a --actor registrar \
    --matricule 21U1234 --name "Ada Lovelace" --program Mathematics \
    --session 2024 --level Master --status VALIDATED`,
	Args: cobra.NoArgs,
	RunE: runDiplomaCreate,
}

var diplomaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's diplomas",
	Args:  cobra.NoArgs,
	RunE:  runDiplomaList,
}

var diplomaShowCmd = &cobra.Command{
	Use:   "show <diploma-id>",
	Short: "Show one diploma with its signatures",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiplomaShow,
}

var transitionCmd = &cobra.Command{
	Use:   "transition <diploma-id>",
	Short: "Move a diploma to VALIDATED, ISSUED or ARCHIVED",
	Long: `Apply a status transition. --from must match the current status, so a
transition computed from a stale read is rejected.

Signature statuses are reached through 'sign' and CANCELLED through 'replace'.

Example:
  diplomasecure transition DIP-... --from SIGNED --to ISSUED --actor registrar`,
	Args: cobra.ExactArgs(1),
	RunE: runTransition,
}

func init() {
	rootCmd.AddCommand(diplomaCmd)
	rootCmd.AddCommand(transitionCmd)
	diplomaCmd.AddCommand(diplomaCreateCmd, diplomaListCmd, diplomaShowCmd)

	f := diplomaCreateCmd.Flags()
	f.StringVar(&createMatricule, "matricule", "", "student matricule")
	f.StringVar(&createName, "name", "", "student full name")
	f.StringVar(&createProgram, "program", "", "program of study")
	f.StringVar(&createSession, "session", "", "graduation session year (YYYY)")
	f.StringVar(&createLevel, "level", "", "academic level")
	f.StringVar(&createStatus, "status", "", "initial status (default DRAFT)")
	f.StringArrayVar(&createMeta, "meta", nil, "metadata KEY=VALUE (repeatable)")

	diplomaListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "only list these statuses (repeatable or comma-separated)")

	transitionCmd.Flags().StringVar(&transitionFrom, "from", "", "expected current status")
	transitionCmd.Flags().StringVar(&transitionTo, "to", "", "target status")
	_ = transitionCmd.MarkFlagRequired("from")
	_ = transitionCmd.MarkFlagRequired("to")
}

func runDiplomaCreate(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	who, err := requireActor()
	if err != nil {
		return err
	}
	meta, err := parseMetadata(createMeta)
	if err != nil {
		return err
	}
	var initial diploma.Status
	if createStatus != "" {
		if initial, err = parseStatus(createStatus); err != nil {
			return err
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.Store.Create(cmd.Context(), tenant, diploma.StudentData{
		Matricule:     createMatricule,
		Name:          createName,
		Program:       createProgram,
		Session:       createSession,
		AcademicLevel: createLevel,
		Metadata:      meta,
	}, initial, who)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, r)
	}
	fmt.Fprintf(out, "Created %s (%s)\n", ui.Bold(r.ID), ui.Status(string(r.Status)))
	return nil
}

func runDiplomaList(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(listStatuses)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Store.List(cmd.Context(), tenant, statuses...)
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

func runDiplomaShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.Store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), r)
	}
	return printRecord(cmd.OutOrStdout(), r)
}

func runTransition(cmd *cobra.Command, args []string) error {
	who, err := requireActor()
	if err != nil {
		return err
	}
	from, err := parseStatus(transitionFrom)
	if err != nil {
		return err
	}
	to, err := parseStatus(transitionTo)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.Store.ApplyTransition(cmd.Context(), args[0], from, to, who)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), r)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", r.ID, from, ui.Status(string(r.Status)))
	return nil
}
