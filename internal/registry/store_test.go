package registry

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/db"
	"github.com/wangue52/diploma-secure/internal/diploma"
)

type fixture struct {
	store *Store
	audit *audit.Log
	db    *db.Sqlite
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sq, err := db.OpenWithSchema(context.Background(), filepath.Join(t.TempDir(), "registry.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	l := audit.New(sq)
	return &fixture{store: New(sq, l), audit: l, db: sq}
}

func student(matricule string) diploma.StudentData {
	return diploma.StudentData{
		Matricule:     matricule,
		Name:          "Amina Njoya",
		Program:       "Computer Science",
		Session:       "2024",
		AcademicLevel: "Master",
		Metadata:      map[string]string{"mention": "Bien"},
	}
}

func (f *fixture) create(t *testing.T, tenant string, initial diploma.Status) *diploma.Record {
	t.Helper()
	r, err := f.store.Create(context.Background(), tenant, student("  mat-001 "), initial, "admin-1")
	require.NoError(t, err)
	return r
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r := f.create(t, "univ-a", diploma.StatusDraft)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "MAT-001", r.StudentMatricule)
	assert.Equal(t, diploma.StatusDraft, r.Status)
	assert.Equal(t, int64(1), r.Version)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.StudentName, got.StudentName)
	assert.Equal(t, map[string]string{"mention": "Bien"}, got.Metadata)
	assert.Empty(t, got.Signatures)
	assert.WithinDuration(t, r.CreatedAt, got.CreatedAt, time.Microsecond)

	entries, err := f.audit.ForSubject(ctx, "univ-a", r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionDiplomaCreated, entries[0].Action)
	assert.Equal(t, "admin-1", entries[0].ActorID)
}

func TestCreate_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Create(ctx, "", student("MAT-1"), diploma.StatusDraft, "a")
	assert.ErrorIs(t, err, diploma.ErrInvalidInput)

	_, err = f.store.Create(ctx, "univ-a", student("MAT-1"), diploma.StatusSigned, "a")
	assert.ErrorIs(t, err, diploma.ErrInvalidInput)

	bad := student("MAT-1")
	bad.Session = "24"
	_, err = f.store.Create(ctx, "univ-a", bad, diploma.StatusDraft, "a")
	assert.ErrorIs(t, err, diploma.ErrInvalidInput)

	n, err := f.store.Count(ctx, "univ-a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, diploma.ErrNotFound)
}

func TestApplyTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusDraft)

	got, err := f.store.ApplyTransition(ctx, r.ID, diploma.StatusDraft, diploma.StatusValidated, "validator-1")
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusValidated, got.Status)
	assert.Equal(t, int64(2), got.Version)

	entries, err := f.audit.ForSubject(ctx, "univ-a", r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionDiplomaValidated, entries[1].Action)
	assert.JSONEq(t, `{"from":"DRAFT","to":"VALIDATED"}`, string(entries[1].Data))
}

func TestApplyTransition_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusValidated)

	tests := []struct {
		name     string
		id       string
		from, to diploma.Status
		want     error
	}{
		{"missing", "nope", diploma.StatusDraft, diploma.StatusValidated, diploma.ErrNotFound},
		{"stale from", r.ID, diploma.StatusDraft, diploma.StatusValidated, diploma.ErrInvalidTransition},
		{"premature issue", r.ID, diploma.StatusValidated, diploma.StatusIssued, diploma.ErrQuorumNotMet},
		{"cancel directly", r.ID, diploma.StatusValidated, diploma.StatusCancelled, diploma.ErrInvalidTransition},
		{"sign without signatures", r.ID, diploma.StatusValidated, diploma.StatusSigned, diploma.ErrInvalidTransition},
		{"not in table", r.ID, diploma.StatusValidated, diploma.StatusArchived, diploma.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.ApplyTransition(ctx, tt.id, tt.from, tt.to, "x")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusValidated, got.Status)
	assert.Equal(t, int64(1), got.Version, "failed transitions must not write")
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.create(t, "univ-a", diploma.StatusDraft)
	d2 := f.create(t, "univ-a", diploma.StatusValidated)
	f.create(t, "univ-b", diploma.StatusValidated)

	err := f.store.Update(ctx, func(tx *Tx) error {
		r, err := tx.Get(ctx, d2.ID)
		if err != nil {
			return err
		}
		return tx.AddSignature(ctx, r, diploma.Signature{
			SignerID: "rector-1", SignerRole: diploma.RoleRector, SignatureArtifactRef: "sig://1", SignedAt: f.store.Now(),
		}, diploma.StatusPartiallySigned)
	})
	require.NoError(t, err)

	all, err := f.store.List(ctx, "univ-a")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, d1.ID, all[0].ID)
	assert.Len(t, all[1].Signatures, 1)

	partial, err := f.store.List(ctx, "univ-a", diploma.StatusPartiallySigned, diploma.StatusSigned)
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, d2.ID, partial[0].ID)

	stats, err := f.store.Stats(ctx, "univ-a")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[diploma.StatusDraft])
	assert.Equal(t, 1, stats.ByStatus[diploma.StatusPartiallySigned])
	assert.Equal(t, 0, stats.ByStatus[diploma.StatusIssued])
}

func TestUpdate_RollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusDraft)

	err := f.store.Update(ctx, func(tx *Tx) error {
		got, err := tx.Get(ctx, r.ID)
		if err != nil {
			return err
		}
		if err := tx.Transition(ctx, got, diploma.StatusValidated); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusDraft, got.Status)
}

func TestTx_TransitionRefusesCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusValidated)

	err := f.store.Update(ctx, func(tx *Tx) error {
		return tx.Transition(ctx, r, diploma.StatusCancelled)
	})
	assert.ErrorIs(t, err, diploma.ErrInvalidTransition)
}

func TestTx_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusDraft)
	stale := r.Clone()

	_, err := f.store.ApplyTransition(ctx, r.ID, diploma.StatusDraft, diploma.StatusValidated, "v")
	require.NoError(t, err)

	err = f.store.Update(ctx, func(tx *Tx) error {
		stale.Status = diploma.StatusValidated
		return tx.Transition(ctx, stale, diploma.StatusPartiallySigned)
	})
	assert.ErrorIs(t, err, diploma.ErrInvalidTransition)
}

func TestTx_DuplicateSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusValidated)
	sig := diploma.Signature{SignerID: "dean-1", SignerRole: diploma.RoleDean, SignatureArtifactRef: "s", SignedAt: f.store.Now()}

	require.NoError(t, f.store.Update(ctx, func(tx *Tx) error {
		got, err := tx.Get(ctx, r.ID)
		if err != nil {
			return err
		}
		return tx.AddSignature(ctx, got, sig, diploma.StatusPartiallySigned)
	}))

	err := f.store.Update(ctx, func(tx *Tx) error {
		// A stale copy that does not know about the first signature still
		// hits the (diploma_id, signer_id) key.
		return tx.AddSignature(ctx, r, sig, diploma.StatusPartiallySigned)
	})
	assert.ErrorIs(t, err, diploma.ErrDuplicateSignature)
}

func TestWritesBlockedWhileAuditHalted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusDraft)

	_, err := f.db.Write.ExecContext(ctx, `UPDATE audit_entries SET actor_id = 'forged'`)
	require.NoError(t, err)
	result, err := f.audit.VerifyChain(ctx, "univ-a")
	require.NoError(t, err)
	require.False(t, result.Valid)

	_, err = f.store.ApplyTransition(ctx, r.ID, diploma.StatusDraft, diploma.StatusValidated, "v")
	assert.ErrorIs(t, err, diploma.ErrChainIntegrity)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusDraft, got.Status)
}

// signatureGate commits a write just before the first signatures query of a
// read, between the record row and its signatures.
type signatureGate struct {
	db.Querier
	before func()
	fired  bool
}

func (g *signatureGate) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if !g.fired && strings.Contains(query, "FROM signatures") {
		g.fired = true
		g.before()
	}
	return g.Querier.QueryContext(ctx, query, args...)
}

func TestReads_SeeOneCommittedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, "univ-a", diploma.StatusValidated)

	sign := func(signer string, role diploma.Role) func() {
		return func() {
			err := f.store.Update(ctx, func(tx *Tx) error {
				cur, err := tx.Get(ctx, r.ID)
				if err != nil {
					return err
				}
				sig := diploma.Signature{SignerID: signer, SignerRole: role, SignatureArtifactRef: "sig://" + signer, SignedAt: f.store.Now()}
				return tx.AddSignature(ctx, cur, sig, diploma.StatusPartiallySigned)
			})
			require.NoError(t, err)
		}
	}

	f.store.readHook = func(q db.Querier) db.Querier {
		return &signatureGate{Querier: q, before: sign("dean-1", diploma.RoleDean)}
	}
	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusValidated, got.Status)
	assert.Empty(t, got.Signatures, "signature committed after the record row must not be visible")

	f.store.readHook = func(q db.Querier) db.Querier {
		return &signatureGate{Querier: q, before: sign("rector-1", diploma.RoleRector)}
	}
	list, err := f.store.List(ctx, "univ-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, diploma.StatusPartiallySigned, list[0].Status)
	assert.Len(t, list[0].Signatures, 1)

	f.store.readHook = nil
	got, err = f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, diploma.StatusPartiallySigned, got.Status)
	assert.Len(t, got.Signatures, 2)
}
