// Package verification answers public authenticity queries. It follows
// replacement links from a cancelled diploma to its current successor.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
)

// Reader is the read side of the record store.
type Reader interface {
	Get(ctx context.Context, diplomaID string) (*diploma.Record, error)
	Count(ctx context.Context, tenantID string) (int, error)
}

// Result is the outcome of a verification.
type Result struct {
	QueriedID   string `json:"queriedId"`
	Found       bool   `json:"found"`
	IsAuthentic bool   `json:"isAuthentic"`
	// Diploma is the newest record of the chain: the queried record itself
	// unless it was cancelled and replaced.
	Diploma *diploma.Record `json:"diploma,omitempty"`
	// CancelledChain lists the cancelled ids traversed, starting with the
	// queried one.
	CancelledChain []string `json:"cancelledChain"`
}

// Service is the verification service. It never writes or locks.
type Service struct {
	records Reader
}

// New returns a service reading from records.
func New(records Reader) *Service {
	return &Service{records: records}
}

// Verify looks up identifier. An unknown identifier is not an error: the
// result has Found false.
func (s *Service) Verify(ctx context.Context, identifier string) (*Result, error) {
	identifier = strings.TrimSpace(identifier)
	res := &Result{QueriedID: identifier, CancelledChain: []string{}}

	r, err := s.records.Get(ctx, identifier)
	if errors.Is(err, diploma.ErrNotFound) {
		metrics.Verifications.WithLabelValues(metrics.NotFound).Inc()
		log.Info("verification lookup", "diploma", identifier, "found", false)
		return res, nil
	}
	if err != nil {
		metrics.Verifications.WithLabelValues(metrics.Failed).Inc()
		return nil, err
	}
	res.Found = true

	if r.Status == diploma.StatusCancelled {
		if r, err = s.follow(ctx, r, res); err != nil {
			metrics.Verifications.WithLabelValues(metrics.Invalid).Inc()
			return nil, err
		}
	}
	res.Diploma = r
	res.IsAuthentic = r.Status.Authentic()

	label := metrics.Success
	if !res.IsAuthentic {
		label = metrics.Rejected
	}
	metrics.Verifications.WithLabelValues(label).Inc()
	log.Info("verification lookup", "tenant", r.TenantID, "diploma", identifier,
		"found", true, "current", r.ID, "authentic", res.IsAuthentic)
	return res, nil
}

// follow walks replacedById from a cancelled record to the first record
// that is not cancelled. The walk is bounded by the tenant's record count.
func (s *Service) follow(ctx context.Context, r *diploma.Record, res *Result) (*diploma.Record, error) {
	bound, err := s.records.Count(ctx, r.TenantID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for r.Status == diploma.StatusCancelled {
		if seen[r.ID] || len(res.CancelledChain) >= bound {
			return nil, fmt.Errorf("%w: replacement chain from %s does not terminate", diploma.ErrChainIntegrity, res.QueriedID)
		}
		seen[r.ID] = true
		res.CancelledChain = append(res.CancelledChain, r.ID)

		next := r.ReplacedByID()
		if next == "" {
			// Cancelled without a successor; report the cancelled record.
			return r, nil
		}
		if r, err = s.records.Get(ctx, next); err != nil {
			return nil, fmt.Errorf("following replacement of %s: %w", res.CancelledChain[len(res.CancelledChain)-1], err)
		}
	}
	return r, nil
}

// PublicView is the redacted record shown to unauthenticated verifiers.
// Artifact references and signer identities are withheld.
type PublicView struct {
	ID               string            `json:"id"`
	QueriedID        string            `json:"queriedId"`
	Found            bool              `json:"found"`
	IsAuthentic      bool              `json:"isAuthentic"`
	StudentMatricule string            `json:"studentMatricule,omitempty"`
	StudentName      string            `json:"studentName,omitempty"`
	Program          string            `json:"program,omitempty"`
	Session          string            `json:"session,omitempty"`
	AcademicLevel    string            `json:"academicLevel,omitempty"`
	Status           diploma.Status    `json:"status,omitempty"`
	IsSigned         bool              `json:"isSigned"`
	SignatureCount   int               `json:"signatureCount"`
	Signatories      []PublicSignatory `json:"signatories,omitempty"`
	CancelledChain   []string          `json:"cancelledChain"`
	Timestamp        time.Time         `json:"timestamp"`
}

// PublicSignatory is the redacted form of a signature.
type PublicSignatory struct {
	Role     diploma.Role `json:"role"`
	Title    string       `json:"title,omitempty"`
	SignedAt time.Time    `json:"signedAt"`
}

// Public redacts res for the public endpoint. now stamps the answer.
func (res *Result) Public(now time.Time) *PublicView {
	v := &PublicView{
		QueriedID:      res.QueriedID,
		Found:          res.Found,
		IsAuthentic:    res.IsAuthentic,
		CancelledChain: res.CancelledChain,
		Timestamp:      now,
	}
	r := res.Diploma
	if r == nil {
		return v
	}
	v.ID = r.ID
	v.StudentMatricule = r.StudentMatricule
	v.StudentName = r.StudentName
	v.Program = r.Program
	v.Session = r.Session
	v.AcademicLevel = r.AcademicLevel
	v.Status = r.Status
	v.IsSigned = r.Status.Authentic()
	v.SignatureCount = len(r.Signatures)
	for _, sig := range r.Signatures {
		v.Signatories = append(v.Signatories, PublicSignatory{Role: sig.SignerRole, Title: sig.SignerTitle, SignedAt: sig.SignedAt})
	}
	return v
}
