// Package replacement cancels a signed diploma and issues its corrected
// successor in one atomic step.
package replacement

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/log"
	"github.com/wangue52/diploma-secure/internal/metrics"
	"github.com/wangue52/diploma-secure/internal/registry"
)

// Correction describes what changes in the replacement. Empty fields keep
// the cancelled record's value; Metadata entries are merged over it.
type Correction struct {
	Reason        string            `json:"reason"`
	Matricule     string            `json:"studentMatricule,omitempty"`
	Name          string            `json:"studentName,omitempty"`
	Program       string            `json:"program,omitempty"`
	Session       string            `json:"session,omitempty"`
	AcademicLevel string            `json:"academicLevel,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Result holds both sides of a replacement.
type Result struct {
	Cancelled   *diploma.Record `json:"cancelled"`
	Replacement *diploma.Record `json:"replacement"`
}

// Engine is the replacement engine.
type Engine struct {
	store *registry.Store
}

// New returns an engine writing to store.
func New(store *registry.Store) *Engine {
	return &Engine{store: store}
}

// Replace cancels the SIGNED diploma oldID and creates its successor in
// VALIDATED with no signatures. Both writes and both audit entries commit
// together or not at all.
func (e *Engine) Replace(ctx context.Context, oldID string, c Correction, authorityID string) (*Result, error) {
	res, err := e.replace(ctx, oldID, c, authorityID)
	if err != nil {
		label := metrics.Rejected
		if diploma.Code(err) == "internal" {
			label = metrics.Failed
		}
		metrics.Replacements.WithLabelValues(label).Inc()
		return nil, err
	}
	metrics.Replacements.WithLabelValues(metrics.Success).Inc()
	metrics.Transitions.WithLabelValues(string(diploma.StatusCancelled)).Inc()
	log.WithTenant(res.Cancelled.TenantID).Info("diploma replaced",
		"cancelled", res.Cancelled.ID, "replacement", res.Replacement.ID, "authority", authorityID)
	return res, nil
}

func (e *Engine) replace(ctx context.Context, oldID string, c Correction, authorityID string) (*Result, error) {
	c.Reason = strings.TrimSpace(c.Reason)
	if c.Reason == "" {
		return nil, fmt.Errorf("%w: correction reason is required", diploma.ErrInvalidInput)
	}
	if strings.TrimSpace(authorityID) == "" {
		return nil, fmt.Errorf("%w: authority id is required", diploma.ErrInvalidInput)
	}

	unlock := e.store.Lock(oldID)
	defer unlock()

	var res *Result
	err := e.store.Update(ctx, func(tx *registry.Tx) error {
		old, err := tx.Get(ctx, oldID)
		if err != nil {
			return err
		}
		if old.Status != diploma.StatusSigned {
			return fmt.Errorf("%w: %s is %s", diploma.ErrReplacementOfNonTerminalDiploma, old.ID, old.Status)
		}
		if old.ReplacedByID() != "" {
			return fmt.Errorf("%w: %s replaced by %s", diploma.ErrAlreadyReplaced, old.ID, old.ReplacedByID())
		}
		if err := checkAncestry(ctx, tx, old); err != nil {
			return err
		}

		data, err := corrected(old, c)
		if err != nil {
			return err
		}
		now := e.store.Now()
		successor := &diploma.Record{
			ID:               e.store.NewID(),
			TenantID:         old.TenantID,
			StudentMatricule: data.Matricule,
			StudentName:      data.Name,
			Program:          data.Program,
			Session:          data.Session,
			AcademicLevel:    data.AcademicLevel,
			Status:           diploma.StatusValidated,
			Signatures:       []diploma.Signature{},
			Metadata:         data.Metadata,
			Replacement: &diploma.ReplacementInfo{
				ReplacesID:       old.ID,
				CorrectionReason: c.Reason,
				AuthorityID:      authorityID,
				CorrectedAt:      now,
			},
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := tx.Insert(ctx, successor); err != nil {
			return err
		}
		if err := tx.MarkReplaced(ctx, old, diploma.ReplacementInfo{
			ReplacedByID:     successor.ID,
			CorrectionReason: c.Reason,
			AuthorityID:      authorityID,
			CorrectedAt:      now,
		}); err != nil {
			return err
		}

		if _, err := tx.Audit(ctx, audit.Record{
			TenantID:  old.TenantID,
			Action:    audit.ActionDiplomaCancelled,
			ActorID:   authorityID,
			SubjectID: old.ID,
			Data:      map[string]string{"replacedById": successor.ID, "reason": c.Reason},
		}); err != nil {
			return err
		}
		if _, err := tx.Audit(ctx, audit.Record{
			TenantID:  old.TenantID,
			Action:    audit.ActionDiplomaReissued,
			ActorID:   authorityID,
			SubjectID: successor.ID,
			Data:      map[string]string{"replacesId": old.ID, "reason": c.Reason},
		}); err != nil {
			return err
		}

		res = &Result{Cancelled: old, Replacement: successor}
		return nil
	})
	return res, err
}

// corrected applies c over old's student data and validates the result.
func corrected(old *diploma.Record, c Correction) (diploma.StudentData, error) {
	d := diploma.StudentData{
		Matricule:     pick(c.Matricule, old.StudentMatricule),
		Name:          pick(c.Name, old.StudentName),
		Program:       pick(c.Program, old.Program),
		Session:       pick(c.Session, old.Session),
		AcademicLevel: pick(c.AcademicLevel, old.AcademicLevel),
		Metadata:      maps.Clone(old.Metadata),
	}
	if len(c.Metadata) > 0 {
		if d.Metadata == nil {
			d.Metadata = make(map[string]string, len(c.Metadata))
		}
		maps.Copy(d.Metadata, c.Metadata)
	}
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

func pick(override, current string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return current
}

// checkAncestry walks replacesId back from r and fails if the walk does
// not end within the tenant's record count.
func checkAncestry(ctx context.Context, tx *registry.Tx, r *diploma.Record) error {
	bound, err := tx.Count(ctx, r.TenantID)
	if err != nil {
		return err
	}
	seen := map[string]bool{r.ID: true}
	cur := r
	for hops := 0; cur.ReplacesID() != ""; hops++ {
		if hops >= bound || seen[cur.ReplacesID()] {
			return fmt.Errorf("%w: replacement chain of %s does not terminate", diploma.ErrChainIntegrity, r.ID)
		}
		seen[cur.ReplacesID()] = true
		if cur, err = tx.Get(ctx, cur.ReplacesID()); err != nil {
			return fmt.Errorf("walking replacement chain of %s: %w", r.ID, err)
		}
	}
	return nil
}
