package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
)

// Result contains the outcome of verifying a tenant's chain. MerkleRootValid
// and AttestationValid are only set by ProofBundle.Verify; the database
// check has neither a stored root nor a signature to compare against.
type Result struct {
	TenantID         string `json:"tenantId"`
	Valid            bool   `json:"valid"`
	HashChainValid   bool   `json:"hashChainValid"`
	MerkleRootValid  bool   `json:"merkleRootValid,omitempty"`
	AttestationValid bool   `json:"attestationValid,omitempty"`
	EntryCount       uint64 `json:"entryCount"`
	LastHash         string `json:"lastHash,omitempty"`
	Error            string `json:"error,omitempty"`
}

// chainChecker walks a chain entry by entry.
type chainChecker struct {
	tenantID string
	prevHash string
	next     uint64
	hashes   []string
}

func newChainChecker(tenantID string) *chainChecker {
	return &chainChecker{tenantID: tenantID, next: FirstSequence}
}

func (c *chainChecker) check(e *Entry) error {
	if e.TenantID != c.tenantID {
		return fmt.Errorf("entry %d belongs to tenant %q", e.Sequence, e.TenantID)
	}
	if e.Sequence != c.next {
		return fmt.Errorf("sequence gap: expected %d, got %d", c.next, e.Sequence)
	}
	if e.PrevHash != c.prevHash {
		return fmt.Errorf("broken chain at seq %d: prev_hash mismatch", e.Sequence)
	}
	if !e.Verify() {
		return fmt.Errorf("invalid hash at seq %d: entry tampered", e.Sequence)
	}
	c.prevHash = e.Hash
	c.hashes = append(c.hashes, e.Hash)
	c.next++
	return nil
}

// VerifyChain recomputes every hash of the tenant's chain from the first
// entry and checks that the walk ends at the tenant's recorded head, so a
// removed or reassigned tail is caught too. A mismatch halts further appends
// for the tenant until Release is called; it is reported in the result, not
// as an error.
func (l *Log) VerifyChain(ctx context.Context, tenantID string) (*Result, error) {
	result := &Result{TenantID: tenantID, Valid: true, HashChainValid: true}
	checker := newChainChecker(tenantID)

	err := l.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT tenant_id, seq, ts, action, actor_id, subject_id, data, prev_hash, hash
			FROM audit_entries WHERE tenant_id = ? ORDER BY seq
		`, tenantID)
		if err != nil {
			return fmt.Errorf("querying chain: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			if err := checker.check(e); err != nil {
				result.breakChain(err.Error())
				break
			}
			result.EntryCount++
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading chain: %w", err)
		}
		rows.Close()
		if !result.Valid {
			return nil
		}

		headSeq, headHash, ok, err := loadHead(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		last := checker.next - 1
		switch {
		case !ok && result.EntryCount > 0:
			result.breakChain(fmt.Sprintf("no recorded head for %d entries", result.EntryCount))
		case ok && (headSeq != last || headHash != checker.prevHash):
			result.breakChain(fmt.Sprintf("chain ends at seq %d but head is seq %d", last, headSeq))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.LastHash = checker.prevHash

	if result.Valid {
		metrics.ChainChecks.WithLabelValues(metrics.Success).Inc()
		return result, nil
	}

	metrics.ChainChecks.WithLabelValues(metrics.Invalid).Inc()
	log.Error("audit chain integrity violation", "tenant", tenantID, "error", result.Error)
	if err := l.halt(ctx, tenantID, result.Error); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Result) breakChain(msg string) {
	r.Valid = false
	r.HashChainValid = false
	r.Error = msg
}
