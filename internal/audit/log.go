package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wangue52/diploma-secure/internal/db"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
)

// Record describes an action to be appended to a tenant's chain.
type Record struct {
	TenantID  string
	Action    Action
	ActorID   string
	SubjectID string
	// Data must be JSON-serializable; nil is stored as {}.
	Data any
}

// Log is the hash-chained audit log. Entries live in the same database as
// the diploma records so that an entry commits with the change it describes.
type Log struct {
	db  *db.Sqlite
	now func() time.Time
}

// New returns a log backed by sq. The schema must already be set up.
func New(sq *db.Sqlite) *Log {
	return &Log{db: sq, now: func() time.Time { return time.Now().UTC() }}
}

// Append adds an entry to the tenant's chain through q, normally the caller's
// transaction, and moves the tenant's head to it. The head is read through q
// as well, so the (tenant_id, seq) primary key rejects a writer that raced on
// the same tail.
func (l *Log) Append(ctx context.Context, q db.Querier, r Record) (*Entry, error) {
	if r.TenantID == "" {
		return nil, fmt.Errorf("%w: audit entry without tenant", diploma.ErrInvalidInput)
	}
	if reason, halted, err := haltReason(ctx, q, r.TenantID); err != nil {
		return nil, err
	} else if halted {
		return nil, fmt.Errorf("tenant %s audit log halted (%s): %w", r.TenantID, reason, diploma.ErrChainIntegrity)
	}

	data := emptyData
	if r.Data != nil {
		b, err := json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("marshaling audit data: %w", err)
		}
		data = b
	}

	lastSeq, lastHash, _, err := loadHead(ctx, q, r.TenantID)
	if err != nil {
		return nil, err
	}

	entry := newEntry(lastSeq+1, lastHash, r, data, l.now())
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_entries (tenant_id, seq, ts, action, actor_id, subject_id, data, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.TenantID, entry.Sequence, formatTime(entry.Timestamp), entry.Action,
		entry.ActorID, entry.SubjectID, string(entry.Data), entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("inserting audit entry %s/%d: %w", entry.TenantID, entry.Sequence, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_heads (tenant_id, seq, hash) VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET seq = excluded.seq, hash = excluded.hash
	`, entry.TenantID, entry.Sequence, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("advancing audit head %s/%d: %w", entry.TenantID, entry.Sequence, err)
	}
	return entry, nil
}

// Record appends a single entry in its own transaction.
func (l *Log) Record(ctx context.Context, r Record) (*Entry, error) {
	var entry *Entry
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = l.Append(ctx, tx, r)
		return err
	})
	return entry, err
}

// Entries returns up to limit entries of a tenant with seq > afterSeq, in
// chain order. A limit of zero or less returns everything.
func (l *Log) Entries(ctx context.Context, tenantID string, afterSeq uint64, limit int) ([]*Entry, error) {
	query := `
		SELECT tenant_id, seq, ts, action, actor_id, subject_id, data, prev_hash, hash
		FROM audit_entries WHERE tenant_id = ? AND seq > ?
		ORDER BY seq`
	args := []any{tenantID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.Read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ForSubject returns every entry about one diploma, across the chain.
func (l *Log) ForSubject(ctx context.Context, tenantID, subjectID string) ([]*Entry, error) {
	rows, err := l.db.Read.QueryContext(ctx, `
		SELECT tenant_id, seq, ts, action, actor_id, subject_id, data, prev_hash, hash
		FROM audit_entries WHERE tenant_id = ? AND subject_id = ?
		ORDER BY seq
	`, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("querying subject entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Tenants lists every tenant with at least one appended entry.
func (l *Log) Tenants(ctx context.Context) ([]string, error) {
	rows, err := l.db.Read.QueryContext(ctx, `SELECT tenant_id FROM audit_heads ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Halted reports whether the tenant's log is halted and why.
func (l *Log) Halted(ctx context.Context, tenantID string) (string, bool, error) {
	return haltReason(ctx, l.db.Read, tenantID)
}

// Release lifts a halt after manual investigation.
func (l *Log) Release(ctx context.Context, tenantID, operatorID string) error {
	res, err := l.db.Write.ExecContext(ctx, `DELETE FROM audit_halts WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("releasing halt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s is not halted: %w", tenantID, diploma.ErrInvalidInput)
	}
	l.refreshHaltGauge(ctx)
	log.Warn("audit halt released", "tenant", tenantID, "operator", operatorID)
	return nil
}

func (l *Log) halt(ctx context.Context, tenantID, reason string) error {
	res, err := l.db.Write.ExecContext(ctx, `
		INSERT INTO audit_halts (tenant_id, reason, halted_at) VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID, reason, formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("recording halt: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.refreshHaltGauge(ctx)
	}
	return nil
}

func (l *Log) refreshHaltGauge(ctx context.Context) {
	var n int
	if err := l.db.Read.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_halts`).Scan(&n); err != nil {
		log.Debug("counting audit halts", "error", err)
		return
	}
	metrics.HaltedTenants.Set(float64(n))
}

// loadHead returns the last appended seq and hash of a tenant. A tenant
// without entries has no head.
func loadHead(ctx context.Context, q db.Querier, tenantID string) (uint64, string, bool, error) {
	var seq uint64
	var hash string
	err := q.QueryRowContext(ctx, `SELECT seq, hash FROM audit_heads WHERE tenant_id = ?`, tenantID).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("loading audit head: %w", err)
	}
	return seq, hash, true, nil
}

func haltReason(ctx context.Context, q db.Querier, tenantID string) (string, bool, error) {
	var reason string
	err := q.QueryRowContext(ctx, `SELECT reason FROM audit_halts WHERE tenant_id = ?`, tenantID).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checking audit halt: %w", err)
	}
	return reason, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var ts, data string
	if err := s.Scan(&e.TenantID, &e.Sequence, &ts, &e.Action, &e.ActorID, &e.SubjectID, &data, &e.PrevHash, &e.Hash); err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}
	// An unparseable timestamp leaves the zero time, which then fails hash
	// verification instead of aborting the scan.
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	e.Data = json.RawMessage(data)
	return &e, nil
}
