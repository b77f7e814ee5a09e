package audit

import (
	"strconv"
	"time"
)

// Attestation is a signed checkpoint of a tenant's chain head.
type Attestation struct {
	TenantID   string    `json:"tenantId"`
	Sequence   uint64    `json:"seq"`
	LastHash   string    `json:"lastHash"`
	MerkleRoot string    `json:"merkleRoot"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  []byte    `json:"signature"`
	PublicKey  []byte    `json:"publicKey"`
}

// message is what the signature covers.
func (a *Attestation) message() []byte {
	return []byte(a.TenantID + "\n" + strconv.FormatUint(a.Sequence, 10) + "\n" + a.LastHash + "\n" + a.MerkleRoot)
}

// Sign fills in the signature and public key.
func (a *Attestation) Sign(s *Signer) {
	a.PublicKey = s.PublicKey()
	a.Signature = s.Sign(a.message())
}

// Verify checks if the attestation signature is valid.
func (a *Attestation) Verify() bool {
	return VerifySignature(a.PublicKey, a.message(), a.Signature)
}
