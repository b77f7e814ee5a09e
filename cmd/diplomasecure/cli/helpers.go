package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/app"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/ui"
)

// validMetaKey matches metadata keys accepted on the command line.
var validMetaKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)

func openApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening diploma store: %w", err)
	}
	return a, nil
}

func requireTenant() (string, error) {
	if tenantID == "" {
		return "", errors.New("--tenant is required (or set DIPLOMASECURE_TENANT)")
	}
	return tenantID, nil
}

func requireActor() (string, error) {
	if actorID == "" {
		return "", errors.New("--actor is required (or set DIPLOMASECURE_ACTOR)")
	}
	return actorID, nil
}

// parseMetadata turns KEY=VALUE flags into a map.
func parseMetadata(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid metadata %q: expected KEY=VALUE format", f)
		}
		if !validMetaKey.MatchString(key) {
			return nil, fmt.Errorf("invalid metadata key %q", key)
		}
		out[key] = value
	}
	return out, nil
}

// parseStatus accepts status names in any case.
func parseStatus(s string) (diploma.Status, error) {
	return diploma.ParseStatus(strings.ToUpper(strings.TrimSpace(s)))
}

func parseStatuses(values []string) ([]diploma.Status, error) {
	var out []diploma.Status
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := parseStatus(part)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printRecord(out io.Writer, r *diploma.Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", ui.Bold(r.ID))
	fmt.Fprintf(w, "Tenant:\t%s\n", r.TenantID)
	fmt.Fprintf(w, "Status:\t%s\n", ui.Status(string(r.Status)))
	fmt.Fprintf(w, "Student:\t%s (%s)\n", r.StudentName, r.StudentMatricule)
	fmt.Fprintf(w, "Program:\t%s, %s %s\n", r.Program, r.AcademicLevel, r.Session)
	for k, v := range r.Metadata {
		fmt.Fprintf(w, "Meta %s:\t%s\n", k, v)
	}
	if info := r.Replacement; info != nil {
		if info.ReplacesID != "" {
			fmt.Fprintf(w, "Replaces:\t%s\n", info.ReplacesID)
		}
		if info.ReplacedByID != "" {
			fmt.Fprintf(w, "Replaced by:\t%s\n", info.ReplacedByID)
		}
		if info.CorrectionReason != "" {
			fmt.Fprintf(w, "Reason:\t%s (by %s)\n", info.CorrectionReason, info.AuthorityID)
		}
	}
	fmt.Fprintf(w, "Version:\t%d\n", r.Version)
	fmt.Fprintf(w, "Updated:\t%s\n", formatTime(r.UpdatedAt))
	if err := w.Flush(); err != nil {
		return err
	}

	if len(r.Signatures) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	ui.Section(out, "Signatures")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNER\tROLE\tTITLE\tSIGNED")
	for _, s := range r.Signatures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.SignerID, s.SignerRole, s.SignerTitle, formatTime(s.SignedAt))
	}
	return w.Flush()
}

func printRecords(out io.Writer, records []*diploma.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No diplomas found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMATRICULE\tSTUDENT\tPROGRAM\tSESSION\tSIGNATURES")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID,
			ui.Status(string(r.Status)),
			r.StudentMatricule,
			r.StudentName,
			r.Program,
			r.Session,
			len(r.Signatures),
		)
	}
	return w.Flush()
}
