// Package ledger appends signatory signatures to diplomas and moves them to
// PARTIALLY_SIGNED or SIGNED once the tenant quorum is known.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"golang.org/x/sync/errgroup"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
	"github.com/wangue52/diploma-secure/internal/policy"
	"github.com/wangue52/diploma-secure/internal/registry"
)

// DefaultBulkConcurrency bounds parallel appends in BulkSign.
const DefaultBulkConcurrency = 4

// Ledger is the signature ledger.
type Ledger struct {
	store           *registry.Store
	policy          policy.Provider
	bulkConcurrency int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithBulkConcurrency sets how many appends BulkSign runs at once.
func WithBulkConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.bulkConcurrency = n
		}
	}
}

// New returns a ledger writing to store under the rules of p.
func New(store *registry.Store, p policy.Provider, opts ...Option) *Ledger {
	l := &Ledger{store: store, policy: p, bulkConcurrency: DefaultBulkConcurrency}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AppendSignature adds signerID's signature to a diploma. Checks run in a
// fixed order: existence, signer role, duplicate signer, then diploma
// status. The append, the quorum decision and the audit entry are one
// transaction taken under the diploma's lock.
func (l *Ledger) AppendSignature(ctx context.Context, diplomaID, signerID string, role diploma.Role, art diploma.Artifact) (*diploma.Record, error) {
	if strings.TrimSpace(signerID) == "" {
		return nil, fmt.Errorf("%w: signer id is required", diploma.ErrInvalidInput)
	}

	unlock := l.store.Lock(diplomaID)
	defer unlock()

	var out *diploma.Record
	err := l.store.Update(ctx, func(tx *registry.Tx) error {
		r, err := tx.Get(ctx, diplomaID)
		if err != nil {
			return err
		}

		roles, err := l.policy.AuthorizedSignerRoles(ctx, r.TenantID)
		if err != nil {
			return fmt.Errorf("loading signer roles for %s: %w", r.TenantID, err)
		}
		if !roles.Contains(role) {
			return fmt.Errorf("%w: role %s in tenant %s", diploma.ErrUnauthorizedSigner, role, r.TenantID)
		}
		if r.SignedBy(signerID) {
			return fmt.Errorf("%w: %s on %s", diploma.ErrDuplicateSignature, signerID, r.ID)
		}
		if !r.Status.OpenForSignatures() {
			return fmt.Errorf("%w: %s is %s", diploma.ErrInvalidDiplomaState, r.ID, r.Status)
		}

		required, err := l.policy.RequiredSignatureCount(ctx, r.TenantID)
		if err != nil {
			return fmt.Errorf("loading quorum for %s: %w", r.TenantID, err)
		}
		sig := diploma.Signature{
			SignerID:             signerID,
			SignerRole:           role,
			SignerTitle:          art.SignerTitle,
			SignatureArtifactRef: art.SignatureRef,
			StampArtifactRef:     art.StampRef,
			SignedAt:             l.store.Now(),
		}
		next := diploma.QuorumStatus(len(r.Signatures)+1, required)
		if err := tx.AddSignature(ctx, r, sig, next); err != nil {
			return err
		}

		if _, err := tx.Audit(ctx, audit.Record{
			TenantID:  r.TenantID,
			Action:    audit.ActionSignatureAppended,
			ActorID:   signerID,
			SubjectID: r.ID,
			Data: signatureData{
				SignerRole:     role,
				SignerTitle:    art.SignerTitle,
				SignatureCount: len(r.Signatures),
				Required:       required,
				Status:         r.Status,
			},
		}); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		metrics.Signatures.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	metrics.Signatures.WithLabelValues(metrics.Success).Inc()
	if out.Status == diploma.StatusSigned {
		metrics.Transitions.WithLabelValues(string(diploma.StatusSigned)).Inc()
		log.WithTenant(out.TenantID).Info("diploma reached quorum", "diploma", out.ID, "signatures", len(out.Signatures))
	}
	return out, nil
}

type signatureData struct {
	SignerRole     diploma.Role   `json:"signerRole"`
	SignerTitle    string         `json:"signerTitle,omitempty"`
	SignatureCount int            `json:"signatureCount"`
	Required       int            `json:"required"`
	Status         diploma.Status `json:"status"`
}

func resultLabel(err error) string {
	switch {
	case errdefs.IsNotFound(err):
		return metrics.NotFound
	case errors.Is(err, diploma.ErrChainIntegrity):
		return metrics.Invalid
	case diploma.Code(err) != "internal":
		return metrics.Rejected
	default:
		return metrics.Failed
	}
}

// PendingForSigner lists the tenant's diplomas that are open for signatures
// and not yet signed by signerID.
func (l *Ledger) PendingForSigner(ctx context.Context, tenantID, signerID string) ([]*diploma.Record, error) {
	open, err := l.store.List(ctx, tenantID, diploma.StatusValidated, diploma.StatusPartiallySigned)
	if err != nil {
		return nil, err
	}
	pending := make([]*diploma.Record, 0, len(open))
	for _, r := range open {
		if !r.SignedBy(signerID) {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// Outcome values of a bulk signing item.
const (
	OutcomeSucceeded     = "succeeded"
	OutcomeAlreadySigned = "already_signed"
	OutcomeRejected      = "rejected"
)

// Outcome is the result of signing one diploma in a bulk request.
type Outcome struct {
	DiplomaID string          `json:"diplomaId"`
	Outcome   string          `json:"outcome"`
	Code      string          `json:"code,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Diploma   *diploma.Record `json:"diploma,omitempty"`
}

// BulkSign applies the same signature to many diplomas. Items are
// independent: a rejected item does not undo the others. Outcomes are
// returned in input order. Only context cancellation aborts the batch.
func (l *Ledger) BulkSign(ctx context.Context, diplomaIDs []string, signerID string, role diploma.Role, art diploma.Artifact) ([]Outcome, error) {
	outcomes := make([]Outcome, len(diplomaIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.bulkConcurrency)

	for i, diplomaID := range diplomaIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := l.AppendSignature(gctx, diplomaID, signerID, role, art)
			outcomes[i] = outcomeFor(diplomaID, r, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func outcomeFor(diplomaID string, r *diploma.Record, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{DiplomaID: diplomaID, Outcome: OutcomeSucceeded, Diploma: r}
	case errors.Is(err, diploma.ErrDuplicateSignature):
		return Outcome{DiplomaID: diplomaID, Outcome: OutcomeAlreadySigned, Code: diploma.Code(err), Reason: err.Error()}
	default:
		return Outcome{DiplomaID: diplomaID, Outcome: OutcomeRejected, Code: diploma.Code(err), Reason: err.Error()}
	}
}
