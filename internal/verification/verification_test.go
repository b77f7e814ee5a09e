package verification

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/db"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/ledger"
	"github.com/wangue52/diploma-secure/internal/policy"
	"github.com/wangue52/diploma-secure/internal/registry"
	"github.com/wangue52/diploma-secure/internal/replacement"
)

// TestLifecycleWorkedExample walks one diploma through signing, a
// correction and public verification with a quorum of two.
func TestLifecycleWorkedExample(t *testing.T) {
	ctx := context.Background()
	sq, err := db.OpenWithSchema(ctx, filepath.Join(t.TempDir(), "lifecycle.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	p, err := policy.NewStatic(policy.File{Tenants: map[string]policy.Rule{
		"univ-a": {RequiredSignatures: 2, SignerRoles: []string{"RECTOR", "DEAN"}},
	}})
	require.NoError(t, err)
	auditLog := audit.New(sq)
	store := registry.New(sq, auditLog)
	signatures := ledger.New(store, p)
	engine := replacement.New(store)
	verifier := New(store)

	d1, err := store.Create(ctx, "univ-a", diploma.StudentData{
		Matricule: "19A001", Name: "Marie Fotso", Program: "Economics", Session: "2024", AcademicLevel: "Licence",
	}, diploma.StatusValidated, "admin-1")
	require.NoError(t, err)

	r, err := signatures.AppendSignature(ctx, d1.ID, "signer-a", diploma.RoleRector, diploma.Artifact{SignatureRef: "sig://a"})
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusPartiallySigned, r.Status)
	assert.Len(t, r.Signatures, 1)

	_, err = signatures.AppendSignature(ctx, d1.ID, "signer-a", diploma.RoleRector, diploma.Artifact{SignatureRef: "sig://a"})
	assert.ErrorIs(t, err, diploma.ErrDuplicateSignature)
	r, err = store.Get(ctx, d1.ID)
	require.NoError(t, err)
	assert.Len(t, r.Signatures, 1)

	r, err = signatures.AppendSignature(ctx, d1.ID, "signer-b", diploma.RoleDean, diploma.Artifact{SignatureRef: "sig://b"})
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusSigned, r.Status)
	assert.Len(t, r.Signatures, 2)

	res, err := verifier.Verify(ctx, d1.ID)
	require.NoError(t, err)
	assert.True(t, res.IsAuthentic)
	assert.Empty(t, res.CancelledChain)

	replaced, err := engine.Replace(ctx, d1.ID, replacement.Correction{Reason: "name misspelled"}, "authority-x")
	require.NoError(t, err)
	d2 := replaced.Replacement
	assert.Equal(t, diploma.StatusCancelled, replaced.Cancelled.Status)
	assert.Equal(t, d2.ID, replaced.Cancelled.ReplacedByID())
	assert.Equal(t, diploma.StatusValidated, d2.Status)
	assert.Equal(t, d1.ID, d2.ReplacesID())
	assert.Empty(t, d2.Signatures)

	res, err = verifier.Verify(ctx, d1.ID)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.IsAuthentic, "the successor is not signed yet")
	assert.Equal(t, d2.ID, res.Diploma.ID)
	assert.Equal(t, []string{d1.ID}, res.CancelledChain)

	res, err = verifier.Verify(ctx, d2.ID)
	require.NoError(t, err)
	assert.False(t, res.IsAuthentic)
	assert.Empty(t, res.CancelledChain)

	for _, s := range []struct {
		id   string
		role diploma.Role
	}{{"signer-a", diploma.RoleRector}, {"signer-b", diploma.RoleDean}} {
		_, err = signatures.AppendSignature(ctx, d2.ID, s.id, s.role, diploma.Artifact{SignatureRef: "sig://" + s.id})
		require.NoError(t, err)
	}
	res, err = verifier.Verify(ctx, d1.ID)
	require.NoError(t, err)
	assert.True(t, res.IsAuthentic)
	assert.Equal(t, d2.ID, res.Diploma.ID)

	chain, err := auditLog.VerifyChain(ctx, "univ-a")
	require.NoError(t, err)
	assert.True(t, chain.Valid, chain.Error)
	assert.Equal(t, uint64(7), chain.EntryCount, "the rejected duplicate leaves no entry")
}

type memReader map[string]*diploma.Record

func (m memReader) Get(_ context.Context, id string) (*diploma.Record, error) {
	r, ok := m[id]
	if !ok {
		return nil, diploma.ErrNotFound
	}
	return r.Clone(), nil
}

func (m memReader) Count(_ context.Context, tenantID string) (int, error) {
	n := 0
	for _, r := range m {
		if r.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func cancelled(id, next string) *diploma.Record {
	return &diploma.Record{
		ID: id, TenantID: "t", Status: diploma.StatusCancelled,
		Replacement: &diploma.ReplacementInfo{ReplacedByID: next},
	}
}

func TestVerify_NotFound(t *testing.T) {
	res, err := New(memReader{}).Verify(context.Background(), " ghost ")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.False(t, res.IsAuthentic)
	assert.Equal(t, "ghost", res.QueriedID)
	assert.Nil(t, res.Diploma)
}

func TestVerify_FollowsLongChain(t *testing.T) {
	m := memReader{
		"a": cancelled("a", "b"),
		"b": cancelled("b", "c"),
		"c": {ID: "c", TenantID: "t", Status: diploma.StatusIssued},
	}
	res, err := New(m).Verify(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, res.IsAuthentic)
	assert.Equal(t, "c", res.Diploma.ID)
	assert.Equal(t, []string{"a", "b"}, res.CancelledChain)
}

func TestVerify_CancelledWithoutSuccessor(t *testing.T) {
	m := memReader{"a": {ID: "a", TenantID: "t", Status: diploma.StatusCancelled}}
	res, err := New(m).Verify(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, res.IsAuthentic)
	assert.Equal(t, "a", res.Diploma.ID)
}

func TestVerify_CycleIsIntegrityError(t *testing.T) {
	m := memReader{
		"a": cancelled("a", "b"),
		"b": cancelled("b", "a"),
	}
	_, err := New(m).Verify(context.Background(), "a")
	assert.ErrorIs(t, err, diploma.ErrChainIntegrity)
}

func TestResult_PublicRedacts(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	res := &Result{
		QueriedID: "d1", Found: true, IsAuthentic: true, CancelledChain: []string{},
		Diploma: &diploma.Record{
			ID: "d1", StudentName: "Marie Fotso", Status: diploma.StatusSigned,
			Signatures: []diploma.Signature{{SignerID: "u-42", SignerRole: diploma.RoleRector, SignerTitle: "Recteur", SignatureArtifactRef: "sig://secret"}},
		},
	}
	v := res.Public(now)
	assert.True(t, v.IsSigned)
	assert.Equal(t, 1, v.SignatureCount)
	assert.Equal(t, now, v.Timestamp)
	require.Len(t, v.Signatories, 1)
	assert.Equal(t, diploma.RoleRector, v.Signatories[0].Role)

	empty := (&Result{QueriedID: "x", CancelledChain: []string{}}).Public(now)
	assert.False(t, empty.Found)
	assert.Empty(t, empty.ID)
}
