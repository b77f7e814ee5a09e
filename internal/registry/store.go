// Package registry stores diploma records and applies their status
// transitions. Every write commits together with its audit entry.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moby/locker"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/db"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/id"
	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
)

// Store is the diploma record store.
type Store struct {
	db    *db.Sqlite
	audit *audit.Log
	locks *locker.Locker
	now   func() time.Time
	newID func() string
	// readHook, when set, wraps the querier of every snapshot read.
	readHook func(db.Querier) db.Querier
}

// New returns a store over sq that records every change in auditLog.
func New(sq *db.Sqlite, auditLog *audit.Log) *Store {
	return &Store{
		db:    sq,
		audit: auditLog,
		locks: locker.New(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: id.New,
	}
}

// Lock serializes read-modify-write sequences on one diploma. Callers must
// take the lock before opening a transaction.
func (s *Store) Lock(diplomaID string) (unlock func()) {
	s.locks.Lock(diplomaID)
	return func() { _ = s.locks.Unlock(diplomaID) }
}

// Now returns the store clock, for callers that stamp records.
func (s *Store) Now() time.Time {
	return s.now()
}

// NewID returns a fresh diploma identifier.
func (s *Store) NewID() string {
	return s.newID()
}

// Get returns the committed state of a diploma.
func (s *Store) Get(ctx context.Context, diplomaID string) (*diploma.Record, error) {
	var r *diploma.Record
	err := s.snapshot(ctx, func(q db.Querier) error {
		var err error
		r, err = getRecord(ctx, q, diplomaID)
		return err
	})
	return r, err
}

// List returns the tenant's diplomas, oldest first. When statuses is
// non-empty only records in one of them are returned.
func (s *Store) List(ctx context.Context, tenantID string, statuses ...diploma.Status) ([]*diploma.Record, error) {
	var records []*diploma.Record
	err := s.snapshot(ctx, func(q db.Querier) error {
		var err error
		records, err = listRecords(ctx, q, tenantID, statuses)
		return err
	})
	return records, err
}

// snapshot runs fn against one read transaction, so a record and its
// signatures always come from the same committed state.
func (s *Store) snapshot(ctx context.Context, fn func(q db.Querier) error) error {
	return s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		var q db.Querier = tx
		if s.readHook != nil {
			q = s.readHook(q)
		}
		return fn(q)
	})
}

func listRecords(ctx context.Context, q db.Querier, tenantID string, statuses []diploma.Status) ([]*diploma.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM diplomas WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing diplomas: %w", err)
	}
	defer rows.Close()

	var records []*diploma.Record
	byID := make(map[string]*diploma.Record)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading diplomas: %w", err)
	}
	rows.Close()

	if len(records) == 0 {
		return records, nil
	}
	sigRows, err := q.QueryContext(ctx, `
		SELECT `+signatureColumns+` FROM signatures
		WHERE diploma_id IN (SELECT id FROM diplomas WHERE tenant_id = ?)
		ORDER BY diploma_id, position
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing signatures: %w", err)
	}
	defer sigRows.Close()
	for sigRows.Next() {
		diplomaID, sig, err := scanSignature(sigRows)
		if err != nil {
			return nil, err
		}
		if r, ok := byID[diplomaID]; ok {
			r.Signatures = append(r.Signatures, sig)
		}
	}
	return records, sigRows.Err()
}

// Count returns how many records the tenant holds, in any status.
func (s *Store) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.Read.QueryRowContext(ctx, `SELECT COUNT(*) FROM diplomas WHERE tenant_id = ?`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting diplomas: %w", err)
	}
	return n, nil
}

// Stats summarizes a tenant's records by status.
type Stats struct {
	TenantID string                 `json:"tenantId"`
	Total    int                    `json:"total"`
	ByStatus map[diploma.Status]int `json:"byStatus"`
}

// Stats counts the tenant's records per status. Every status appears in
// the result, with zero when unused.
func (s *Store) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM diplomas WHERE tenant_id = ? GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{TenantID: tenantID, ByStatus: make(map[diploma.Status]int, len(diploma.AllStatuses))}
	for _, status := range diploma.AllStatuses {
		st.ByStatus[status] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		st.ByStatus[diploma.Status(status)] = n
		st.Total += n
	}
	return st, rows.Err()
}

// Update runs fn inside one write transaction. The transaction commits only
// if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&Tx{tx: sqlTx, store: s})
	})
}

// Create inserts a new diploma in DRAFT or VALIDATED.
func (s *Store) Create(ctx context.Context, tenantID string, data diploma.StudentData, initial diploma.Status, actorID string) (*diploma.Record, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", diploma.ErrInvalidInput)
	}
	if initial == "" {
		initial = diploma.StatusDraft
	}
	if initial != diploma.StatusDraft && initial != diploma.StatusValidated {
		return nil, fmt.Errorf("%w: diplomas start as DRAFT or VALIDATED, not %s", diploma.ErrInvalidInput, initial)
	}
	data = data.Normalize()
	if err := data.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	r := &diploma.Record{
		ID:               s.newID(),
		TenantID:         tenantID,
		StudentMatricule: data.Matricule,
		StudentName:      data.Name,
		Program:          data.Program,
		Session:          data.Session,
		AcademicLevel:    data.AcademicLevel,
		Status:           initial,
		Signatures:       []diploma.Signature{},
		Metadata:         data.Metadata,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Insert(ctx, r); err != nil {
			return err
		}
		_, err := tx.Audit(ctx, audit.Record{
			TenantID:  tenantID,
			Action:    audit.ActionDiplomaCreated,
			ActorID:   actorID,
			SubjectID: r.ID,
			Data: map[string]string{
				"status":           string(r.Status),
				"studentMatricule": r.StudentMatricule,
				"session":          r.Session,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.DiplomasCreated.WithLabelValues(tenantID).Inc()
	log.Debug("diploma created", "tenant", tenantID, "diploma", r.ID, "status", r.Status)
	return r, nil
}

// transitionActions maps a target status reachable by ApplyTransition to
// the audit action it records.
var transitionActions = map[diploma.Status]audit.Action{
	diploma.StatusValidated: audit.ActionDiplomaValidated,
	diploma.StatusIssued:    audit.ActionDiplomaIssued,
	diploma.StatusArchived:  audit.ActionDiplomaArchived,
}

// ApplyTransition moves a diploma from fromExpected to to. The current
// status must equal fromExpected. Signature-driven statuses are reached only
// by appending signatures and CANCELLED only by a replacement, so both are
// rejected here.
func (s *Store) ApplyTransition(ctx context.Context, diplomaID string, fromExpected, to diploma.Status, actorID string) (*diploma.Record, error) {
	unlock := s.Lock(diplomaID)
	defer unlock()

	var out *diploma.Record
	err := s.Update(ctx, func(tx *Tx) error {
		r, err := tx.Get(ctx, diplomaID)
		if err != nil {
			return err
		}
		if r.Status != fromExpected {
			return fmt.Errorf("%w: diploma %s is %s, expected %s", diploma.ErrInvalidTransition, diplomaID, r.Status, fromExpected)
		}
		if to == diploma.StatusIssued && r.Status.OpenForSignatures() {
			return fmt.Errorf("%w: diploma %s has %d signature(s) and is still %s", diploma.ErrQuorumNotMet, diplomaID, len(r.Signatures), r.Status)
		}
		action, ok := transitionActions[to]
		if !ok || !diploma.CanTransition(r.Status, to) {
			return fmt.Errorf("%w: %s -> %s", diploma.ErrInvalidTransition, r.Status, to)
		}
		from := r.Status
		if err := tx.Transition(ctx, r, to); err != nil {
			return err
		}
		if _, err := tx.Audit(ctx, audit.Record{
			TenantID:  r.TenantID,
			Action:    action,
			ActorID:   actorID,
			SubjectID: r.ID,
			Data:      map[string]string{"from": string(from), "to": string(to)},
		}); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	return out, nil
}

const recordColumns = `id, tenant_id, student_matricule, student_name, program, session, academic_level,
	status, metadata, COALESCE(replaces_id, ''), COALESCE(replaced_by_id, ''), correction_reason,
	authority_id, corrected_at, version, created_at, updated_at`

const signatureColumns = `diploma_id, signer_id, signer_role, signer_title, signature_ref, stamp_ref, signed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*diploma.Record, error) {
	var r diploma.Record
	var status, metadata, replacesID, replacedByID, reason, authority, correctedAt, createdAt, updatedAt string
	err := s.Scan(&r.ID, &r.TenantID, &r.StudentMatricule, &r.StudentName, &r.Program, &r.Session,
		&r.AcademicLevel, &status, &metadata, &replacesID, &replacedByID, &reason, &authority,
		&correctedAt, &r.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = diploma.Status(status)
	r.Signatures = []diploma.Signature{}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", r.ID, err)
		}
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if replacesID != "" || replacedByID != "" {
		info := &diploma.ReplacementInfo{
			ReplacesID:       replacesID,
			ReplacedByID:     replacedByID,
			CorrectionReason: reason,
			AuthorityID:      authority,
		}
		if correctedAt != "" {
			if info.CorrectedAt, err = parseTime(correctedAt); err != nil {
				return nil, err
			}
		}
		r.Replacement = info
	}
	return &r, nil
}

func scanSignature(s scanner) (string, diploma.Signature, error) {
	var diplomaID, role, signedAt string
	var sig diploma.Signature
	if err := s.Scan(&diplomaID, &sig.SignerID, &role, &sig.SignerTitle, &sig.SignatureArtifactRef, &sig.StampArtifactRef, &signedAt); err != nil {
		return "", sig, fmt.Errorf("scanning signature: %w", err)
	}
	sig.SignerRole = diploma.Role(role)
	t, err := parseTime(signedAt)
	if err != nil {
		return "", sig, err
	}
	sig.SignedAt = t
	return diplomaID, sig, nil
}

func getRecord(ctx context.Context, q db.Querier, diplomaID string) (*diploma.Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM diplomas WHERE id = ?`, diplomaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", diploma.ErrNotFound, diplomaID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading diploma %s: %w", diplomaID, err)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE diploma_id = ? ORDER BY position`, diplomaID)
	if err != nil {
		return nil, fmt.Errorf("loading signatures of %s: %w", diplomaID, err)
	}
	defer rows.Close()
	for rows.Next() {
		_, sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		r.Signatures = append(r.Signatures, sig)
	}
	return r, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
