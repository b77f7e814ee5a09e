package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/db"
	"github.com/wangue52/diploma-secure/internal/diploma"
)

// Tx is a write transaction on the store. Its methods update the passed
// record in place once the row has been written.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Get loads a record through the transaction.
func (t *Tx) Get(ctx context.Context, diplomaID string) (*diploma.Record, error) {
	return getRecord(ctx, t.tx, diplomaID)
}

// Insert writes a new record. Signatures on r are not written.
func (t *Tx) Insert(ctx context.Context, r *diploma.Record) error {
	metadata := []byte("{}")
	if len(r.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(r.Metadata); err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
	}
	var replacesID, reason, authority, correctedAt string
	if info := r.Replacement; info != nil {
		replacesID = info.ReplacesID
		reason = info.CorrectionReason
		authority = info.AuthorityID
		if !info.CorrectedAt.IsZero() {
			correctedAt = formatTime(info.CorrectedAt)
		}
	}
	if r.Version == 0 {
		r.Version = 1
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO diplomas (id, tenant_id, student_matricule, student_name, program, session,
			academic_level, status, metadata, replaces_id, correction_reason, authority_id,
			corrected_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TenantID, r.StudentMatricule, r.StudentName, r.Program, r.Session,
		r.AcademicLevel, string(r.Status), string(metadata), replacesID, reason, authority,
		correctedAt, r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if db.IsConstraint(err) {
		return fmt.Errorf("%w: diploma %s conflicts with an existing record: %v", diploma.ErrInvalidInput, r.ID, err)
	}
	if err != nil {
		return fmt.Errorf("inserting diploma %s: %w", r.ID, err)
	}
	return nil
}

// Transition moves r to status to. The row must still hold r's status and
// version. CANCELLED is refused; use MarkReplaced.
func (t *Tx) Transition(ctx context.Context, r *diploma.Record, to diploma.Status) error {
	if to == diploma.StatusCancelled {
		return fmt.Errorf("%w: cancellation requires a replacement", diploma.ErrInvalidTransition)
	}
	if !diploma.CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", diploma.ErrInvalidTransition, r.Status, to)
	}
	return t.setStatus(ctx, r, to)
}

func (t *Tx) setStatus(ctx context.Context, r *diploma.Record, to diploma.Status) error {
	now := t.store.now()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE diplomas SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`, string(to), formatTime(now), r.ID, string(r.Status), r.Version)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", r.ID, err)
	}
	if err := expectOneRow(res, r); err != nil {
		return err
	}
	r.Status = to
	r.Version++
	r.UpdatedAt = now
	return nil
}

// AddSignature appends sig to r and moves r to status next.
func (t *Tx) AddSignature(ctx context.Context, r *diploma.Record, sig diploma.Signature, next diploma.Status) error {
	if r.SignedBy(sig.SignerID) {
		return fmt.Errorf("%w: %s on %s", diploma.ErrDuplicateSignature, sig.SignerID, r.ID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO signatures (diploma_id, position, signer_id, signer_role, signer_title,
			signature_ref, stamp_ref, signed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, len(r.Signatures), sig.SignerID, string(sig.SignerRole), sig.SignerTitle,
		sig.SignatureArtifactRef, sig.StampArtifactRef, formatTime(sig.SignedAt))
	if db.IsConstraint(err) {
		return fmt.Errorf("%w: %s on %s", diploma.ErrDuplicateSignature, sig.SignerID, r.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting signature on %s: %w", r.ID, err)
	}
	if next != r.Status && !diploma.CanTransition(r.Status, next) {
		return fmt.Errorf("%w: %s -> %s", diploma.ErrInvalidTransition, r.Status, next)
	}
	if err := t.setStatus(ctx, r, next); err != nil {
		return err
	}
	r.Signatures = append(r.Signatures, sig)
	return nil
}

// MarkReplaced cancels r and links it to its successor. The successor must
// already be inserted in this transaction.
func (t *Tx) MarkReplaced(ctx context.Context, r *diploma.Record, info diploma.ReplacementInfo) error {
	if info.ReplacedByID == "" {
		return fmt.Errorf("%w: replacement id is required", diploma.ErrInvalidInput)
	}
	if r.ReplacedByID() != "" {
		return fmt.Errorf("%w: %s replaced by %s", diploma.ErrAlreadyReplaced, r.ID, r.ReplacedByID())
	}
	if !r.Status.Cancellable() {
		return fmt.Errorf("%w: %s -> %s", diploma.ErrInvalidTransition, r.Status, diploma.StatusCancelled)
	}

	now := t.store.now()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE diplomas SET status = ?, replaced_by_id = ?, correction_reason = ?,
			authority_id = ?, corrected_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ? AND replaced_by_id IS NULL
	`, string(diploma.StatusCancelled), info.ReplacedByID, info.CorrectionReason,
		info.AuthorityID, formatTime(info.CorrectedAt), formatTime(now),
		r.ID, string(r.Status), r.Version)
	if db.IsConstraint(err) {
		return fmt.Errorf("%w: %s is already the replacement of another diploma", diploma.ErrAlreadyReplaced, info.ReplacedByID)
	}
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", r.ID, err)
	}
	if err := expectOneRow(res, r); err != nil {
		return err
	}

	merged := diploma.ReplacementInfo{}
	if r.Replacement != nil {
		merged.ReplacesID = r.Replacement.ReplacesID
	}
	merged.ReplacedByID = info.ReplacedByID
	merged.CorrectionReason = info.CorrectionReason
	merged.AuthorityID = info.AuthorityID
	merged.CorrectedAt = info.CorrectedAt
	r.Replacement = &merged
	r.Status = diploma.StatusCancelled
	r.Version++
	r.UpdatedAt = now
	return nil
}

// Audit appends an entry to the tenant chain inside this transaction.
func (t *Tx) Audit(ctx context.Context, rec audit.Record) (*audit.Entry, error) {
	return t.store.audit.Append(ctx, t.tx, rec)
}

func expectOneRow(res sql.Result, r *diploma.Record) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", r.ID, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s changed concurrently (expected %s at version %d)", diploma.ErrInvalidTransition, r.ID, r.Status, r.Version)
	}
	return nil
}

// Count returns how many records the tenant holds, read through the transaction.
func (t *Tx) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM diplomas WHERE tenant_id = ?`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting diplomas: %w", err)
	}
	return n, nil
}
