package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/replacement"
	"github.com/wangue52/diploma-secure/internal/ui"
)

var (
	replaceReason    string
	replaceAuthority string
	replaceMatricule string
	replaceName      string
	replaceProgram   string
	replaceSession   string
	replaceLevel     string
	replaceMeta      []string
)

var replaceCmd = &cobra.Command{
	Use:   "replace <diploma-id>",
	Short: "Cancel a signed diploma and issue its corrected successor",
	Long: `Cancel a SIGNED diploma and create its replacement in VALIDATED with no
signatures. Fields not given keep the cancelled diploma's value. The
replacement must be signed again before it is authentic.

Verifying the cancelled id afterwards resolves to the replacement.

Example:
  diplomasecure replace DIP-... --reason "name misspelled" \
    --name "Ada King Lovelace" --authority registrar`,
	Args: cobra.ExactArgs(1),
	RunE: runReplace,
}

func init() {
	rootCmd.AddCommand(replaceCmd)

	f := replaceCmd.Flags()
	f.StringVar(&replaceReason, "reason", "", "why the diploma is corrected")
	f.StringVar(&replaceAuthority, "authority", "", "authority ordering the correction (default --actor)")
	f.StringVar(&replaceMatricule, "matricule", "", "corrected student matricule")
	f.StringVar(&replaceName, "name", "", "corrected student name")
	f.StringVar(&replaceProgram, "program", "", "corrected program")
	f.StringVar(&replaceSession, "session", "", "corrected session year")
	f.StringVar(&replaceLevel, "level", "", "corrected academic level")
	f.StringArrayVar(&replaceMeta, "meta", nil, "metadata KEY=VALUE merged over the original (repeatable)")
	_ = replaceCmd.MarkFlagRequired("reason")
}

func runReplace(cmd *cobra.Command, args []string) error {
	authority := replaceAuthority
	if authority == "" {
		authority = actorID
	}
	meta, err := parseMetadata(replaceMeta)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Replacements.Replace(cmd.Context(), args[0], replacement.Correction{
		Reason:        replaceReason,
		Matricule:     replaceMatricule,
		Name:          replaceName,
		Program:       replaceProgram,
		Session:       replaceSession,
		AcademicLevel: replaceLevel,
		Metadata:      meta,
	}, authority)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, res)
	}
	fmt.Fprintf(out, "Cancelled %s\n", ui.Red(res.Cancelled.ID))
	fmt.Fprintf(out, "Replacement %s (%s), awaiting signatures\n", ui.Bold(res.Replacement.ID), ui.Status(string(res.Replacement.Status)))
	return nil
}
