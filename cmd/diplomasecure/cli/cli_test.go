package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/ledger"
	"github.com/wangue52/diploma-secure/internal/replacement"
	"github.com/wangue52/diploma-secure/internal/verification"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "database:\n  path: " + filepath.Join(dir, "diplomasecure.db") + "\n" +
		"log:\n  level: error\n  dir: " + filepath.Join(dir, "logs") + "\n" +
		"attestation:\n  backend: file\n  key_file: " + filepath.Join(dir, "attestation.key") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

// execute runs the root command with fresh flag state and returns stdout.
func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cfgFile, verbose, logLevel, jsonOut, tenantID, actorID, instanceID = "", false, "", false, "", "", ""
	createMatricule, createName, createProgram, createSession, createLevel, createStatus = "", "", "", "", "", ""
	createMeta, listStatuses = nil, nil
	signSigner, signRole, signTitle, signSignatureRef, signStampRef = "", "", "", "", ""
	replaceReason, replaceAuthority, replaceName = "", "", ""
	verifyPublic, auditExportFile, auditNoAttest, auditLogDiploma = false, "", false, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func decodeOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func createDiploma(t *testing.T, configPath string) *diploma.Record {
	t.Helper()
	out, err := execute(t, configPath, "diploma", "create", "--json", "-t", "univ-a", "--actor", "registrar",
		"--matricule", "21u1234", "--name", "Ada Lovelace", "--program", "Mathematics",
		"--session", "2024", "--level", "Master", "--status", "validated", "--meta", "mention=Bien")
	require.NoError(t, err)
	return decodeOutput[*diploma.Record](t, out)
}

func TestLifecycleCommands(t *testing.T) {
	configPath := writeTestConfig(t)

	d := createDiploma(t, configPath)
	assert.Equal(t, diploma.StatusValidated, d.Status)
	assert.Equal(t, "21U1234", d.StudentMatricule)
	assert.Equal(t, "Bien", d.Metadata["mention"])

	out, err := execute(t, configPath, "sign", d.ID, "--json", "--signer", "dean-1", "--role", "dean", "--signature-ref", "sig://dean")
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusPartiallySigned, decodeOutput[*diploma.Record](t, out).Status)

	out, err = execute(t, configPath, "sign", d.ID, "--json", "--actor", "rector-1", "--role", "RECTOR")
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusSigned, decodeOutput[*diploma.Record](t, out).Status)

	out, err = execute(t, configPath, "verify", d.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "AUTHENTIC")

	out, err = execute(t, configPath, "replace", d.ID, "--json", "--reason", "name misspelled", "--name", "Ada King", "--actor", "registrar")
	require.NoError(t, err)
	res := decodeOutput[replacement.Result](t, out)
	assert.Equal(t, "Ada King", res.Replacement.StudentName)

	out, err = execute(t, configPath, "verify", d.ID, "--json", "--public")
	require.NoError(t, err)
	view := decodeOutput[verification.PublicView](t, out)
	assert.False(t, view.IsAuthentic)
	assert.Equal(t, res.Replacement.ID, view.ID)

	out, err = execute(t, configPath, "verify", d.ID)
	assert.Error(t, err)
	assert.Contains(t, out, "NOT AUTHENTIC")

	out, err = execute(t, configPath, "diploma", "list", "-t", "univ-a", "--status", "cancelled")
	require.NoError(t, err)
	assert.Contains(t, out, d.ID)
	assert.NotContains(t, out, res.Replacement.ID)

	out, err = execute(t, configPath, "stats", "--json", "-t", "univ-a")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 2`)
}

func TestTransitionCommand(t *testing.T) {
	t.Setenv("DIPLOMASECURE_ACTOR", "")
	configPath := writeTestConfig(t)
	d := createDiploma(t, configPath)

	_, err := execute(t, configPath, "transition", d.ID, "--from", "VALIDATED", "--to", "ISSUED", "--actor", "registrar")
	assert.ErrorIs(t, err, diploma.ErrQuorumNotMet)

	_, err = execute(t, configPath, "transition", d.ID, "--from", "DRAFT", "--to", "VALIDATED", "--actor", "registrar")
	assert.ErrorIs(t, err, diploma.ErrInvalidTransition)

	_, err = execute(t, configPath, "transition", d.ID, "--from", "VALIDATED", "--to", "ISSUED")
	assert.ErrorContains(t, err, "--actor is required")
}

func TestBulkSignCommand(t *testing.T) {
	configPath := writeTestConfig(t)
	a := createDiploma(t, configPath)
	b := createDiploma(t, configPath)

	out, err := execute(t, configPath, "sign", a.ID, b.ID, "--json", "--signer", "dean-1", "--role", "DEAN")
	require.NoError(t, err)
	outcomes := decodeOutput[[]ledger.Outcome](t, out)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ledger.OutcomeSucceeded, outcomes[0].Outcome)
	assert.Equal(t, ledger.OutcomeSucceeded, outcomes[1].Outcome)

	out, err = execute(t, configPath, "sign", a.ID, "missing", "--signer", "rector-1", "--role", "RECTOR")
	assert.ErrorContains(t, err, "1 of 2 signature(s) rejected")
	assert.Contains(t, out, "rejected")

	out, err = execute(t, configPath, "pending", "-t", "univ-a", "--signer", "rector-1", "--json")
	require.NoError(t, err)
	pending := decodeOutput[[]*diploma.Record](t, out)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestAuditCommands(t *testing.T) {
	configPath := writeTestConfig(t)
	d := createDiploma(t, configPath)
	_, err := execute(t, configPath, "sign", d.ID, "--signer", "dean-1", "--role", "DEAN")
	require.NoError(t, err)

	out, err := execute(t, configPath, "audit", "verify", "-t", "univ-a")
	require.NoError(t, err)
	assert.Contains(t, out, "INTACT")

	out, err = execute(t, configPath, "audit", "log", "-t", "univ-a", "--json", "--diploma", d.ID)
	require.NoError(t, err)
	entries := decodeOutput[[]*audit.Entry](t, out)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionDiplomaCreated, entries[0].Action)

	bundlePath := filepath.Join(t.TempDir(), "univ-a.proof.json")
	_, err = execute(t, configPath, "audit", "export", "-t", "univ-a", "-o", bundlePath)
	require.NoError(t, err)

	out, err = execute(t, configPath, "audit", "verify-bundle", bundlePath)
	require.NoError(t, err)
	assert.Contains(t, out, "VALID")

	data, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	var bundle audit.ProofBundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	bundle.Entries[0].ActorID = "mallory"
	data, err = json.Marshal(bundle)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bundlePath, data, 0o600))

	out, err = execute(t, configPath, "audit", "verify-bundle", bundlePath)
	assert.Error(t, err)
	assert.Contains(t, out, "TAMPERED")

	_, err = execute(t, configPath, "audit", "release", "-t", "univ-a", "--actor", "operator")
	assert.ErrorIs(t, err, diploma.ErrInvalidInput)
}

func TestRequiresTenant(t *testing.T) {
	t.Setenv("DIPLOMASECURE_TENANT", "")
	_, err := execute(t, writeTestConfig(t), "diploma", "list")
	assert.ErrorContains(t, err, "--tenant is required")
}

func TestCommandsLogToCLIStream(t *testing.T) {
	configPath := writeTestConfig(t)
	_, err := execute(t, configPath, "stats", "-t", "univ-a")
	require.NoError(t, err)

	logs := filepath.Join(filepath.Dir(configPath), "logs")
	target, err := os.Readlink(filepath.Join(logs, "cli-latest"))
	require.NoError(t, err)
	assert.Regexp(t, `^cli-\d{4}-\d{2}-\d{2}\.jsonl$`, target)
	assert.Empty(t, instanceID, "only serve names an instance")
}

func TestParseMetadata(t *testing.T) {
	meta, err := parseMetadata([]string{"mention=Tres Bien", "jury.president=Dr X"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mention": "Tres Bien", "jury.president": "Dr X"}, meta)

	_, err = parseMetadata([]string{"novalue"})
	assert.ErrorContains(t, err, "KEY=VALUE")
	_, err = parseMetadata([]string{"1bad=x"})
	assert.ErrorContains(t, err, "invalid metadata key")

	meta, err = parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses([]string{"signed,issued", " archived "})
	require.NoError(t, err)
	assert.Equal(t, []diploma.Status{diploma.StatusSigned, diploma.StatusIssued, diploma.StatusArchived}, got)

	_, err = parseStatuses([]string{"lost"})
	assert.ErrorIs(t, err, diploma.ErrInvalidInput)
}
