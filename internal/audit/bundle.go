package audit

import (
	"context"
	"fmt"
	"time"
)

// BundleVersion is the current proof bundle format version.
const BundleVersion = 1

// ProofBundle is a portable copy of one tenant's chain that can be verified
// without the database.
type ProofBundle struct {
	Version     int          `json:"version"`
	TenantID    string       `json:"tenantId"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastHash    string       `json:"lastHash"`
	MerkleRoot  string       `json:"merkleRoot"`
	Entries     []*Entry     `json:"entries"`
	Attestation *Attestation `json:"attestation,omitempty"`
}

// Export copies the tenant's chain into a bundle. When signer is non-nil the
// chain head is attested.
func (l *Log) Export(ctx context.Context, tenantID string, signer *Signer) (*ProofBundle, error) {
	entries, err := l.Entries(ctx, tenantID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}

	b := &ProofBundle{
		Version:   BundleVersion,
		TenantID:  tenantID,
		CreatedAt: l.now(),
		Entries:   entries,
	}
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.Hash
	}
	b.MerkleRoot = MerkleRoot(hashes)
	if len(entries) > 0 {
		b.LastHash = entries[len(entries)-1].Hash
	}

	if signer != nil {
		att := &Attestation{
			TenantID:   tenantID,
			Sequence:   uint64(len(entries)),
			LastHash:   b.LastHash,
			MerkleRoot: b.MerkleRoot,
			Timestamp:  b.CreatedAt,
		}
		att.Sign(signer)
		b.Attestation = att
	}
	return b, nil
}

// Verify performs a full integrity verification on the bundle.
func (b *ProofBundle) Verify() *Result {
	result := &Result{
		TenantID:         b.TenantID,
		Valid:            true,
		HashChainValid:   true,
		MerkleRootValid:  true,
		AttestationValid: true,
		EntryCount:       uint64(len(b.Entries)),
	}
	fail := func(msg string) *Result {
		result.Valid = false
		result.Error = msg
		return result
	}

	checker := newChainChecker(b.TenantID)
	for _, e := range b.Entries {
		if err := checker.check(e); err != nil {
			result.breakChain(err.Error())
			return result
		}
	}
	result.LastHash = checker.prevHash
	if checker.prevHash != b.LastHash {
		result.breakChain("last hash mismatch: stored hash doesn't match computed hash")
		return result
	}

	if MerkleRoot(checker.hashes) != b.MerkleRoot {
		result.MerkleRootValid = false
		return fail("merkle root mismatch")
	}

	if att := b.Attestation; att != nil {
		switch {
		case !att.Verify():
			result.AttestationValid = false
			return fail(fmt.Sprintf("invalid signature on attestation at seq %d", att.Sequence))
		case att.TenantID != b.TenantID || att.LastHash != b.LastHash || att.MerkleRoot != b.MerkleRoot:
			result.AttestationValid = false
			return fail("attestation does not cover this chain head")
		}
	}
	return result
}
