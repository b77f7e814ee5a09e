// Package diploma defines the diploma certification domain: records, their
// signatures and replacement links, the status machine and signing roles.
package diploma

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"
)

// Record is a diploma as held by the registry.
type Record struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenantId"`
	StudentMatricule string            `json:"studentMatricule"`
	StudentName      string            `json:"studentName"`
	Program          string            `json:"program"`
	Session          string            `json:"session"`
	AcademicLevel    string            `json:"academicLevel"`
	Status           Status            `json:"status"`
	Signatures       []Signature       `json:"signatures"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Replacement      *ReplacementInfo  `json:"replacementInfo,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Signature is one signatory's mark on a diploma. Artifact references are
// opaque and never verified cryptographically.
type Signature struct {
	SignerID             string    `json:"signerId"`
	SignerRole           Role      `json:"signerRole"`
	SignerTitle          string    `json:"signerTitle"`
	SignatureArtifactRef string    `json:"signatureArtifactRef"`
	StampArtifactRef     string    `json:"stampArtifactRef,omitempty"`
	SignedAt             time.Time `json:"signedAt"`
}

// Artifact carries what a signer contributes alongside their identity.
type Artifact struct {
	SignerTitle  string `json:"signerTitle"`
	SignatureRef string `json:"signatureArtifactRef"`
	StampRef     string `json:"stampArtifactRef,omitempty"`
}

// ReplacementInfo links a record to its predecessor and successor.
type ReplacementInfo struct {
	ReplacesID       string    `json:"replacesId,omitempty"`
	ReplacedByID     string    `json:"replacedById,omitempty"`
	CorrectionReason string    `json:"correctionReason,omitempty"`
	AuthorityID      string    `json:"authorityId,omitempty"`
	CorrectedAt      time.Time `json:"correctedAt,omitzero"`
}

// ReplacesID returns the predecessor id, or "" for an original record.
func (r *Record) ReplacesID() string {
	if r.Replacement == nil {
		return ""
	}
	return r.Replacement.ReplacesID
}

// ReplacedByID returns the successor id, or "" when none exists.
func (r *Record) ReplacedByID() string {
	if r.Replacement == nil {
		return ""
	}
	return r.Replacement.ReplacedByID
}

// SignedBy reports whether signerID already appears in the signatures.
func (r *Record) SignedBy(signerID string) bool {
	for _, s := range r.Signatures {
		if s.SignerID == signerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Signatures = append([]Signature(nil), r.Signatures...)
	c.Metadata = maps.Clone(r.Metadata)
	if r.Replacement != nil {
		info := *r.Replacement
		c.Replacement = &info
	}
	return &c
}

// StudentData is the student-facing content of a new diploma.
type StudentData struct {
	Matricule     string            `json:"studentMatricule"`
	Name          string            `json:"studentName"`
	Program       string            `json:"program"`
	Session       string            `json:"session"`
	AcademicLevel string            `json:"academicLevel"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

var sessionPattern = regexp.MustCompile(`^\d{4}$`)

// Normalize trims every field and upper-cases the matricule.
func (d StudentData) Normalize() StudentData {
	d.Matricule = strings.ToUpper(strings.TrimSpace(d.Matricule))
	d.Name = strings.TrimSpace(d.Name)
	d.Program = strings.TrimSpace(d.Program)
	d.Session = strings.TrimSpace(d.Session)
	d.AcademicLevel = strings.TrimSpace(d.AcademicLevel)
	return d
}

// Validate checks field lengths and the session year format.
func (d StudentData) Validate() error {
	checks := []struct {
		field    string
		value    string
		min, max int
	}{
		{"studentMatricule", d.Matricule, 3, 50},
		{"studentName", d.Name, 2, 200},
		{"program", d.Program, 2, 100},
		{"academicLevel", d.AcademicLevel, 2, 50},
	}
	for _, c := range checks {
		n := len([]rune(c.value))
		if n < c.min || n > c.max {
			return fmt.Errorf("%w: %s must be %d-%d characters", ErrInvalidInput, c.field, c.min, c.max)
		}
	}
	if !sessionPattern.MatchString(d.Session) {
		return fmt.Errorf("%w: session must be a four-digit year", ErrInvalidInput)
	}
	return nil
}
