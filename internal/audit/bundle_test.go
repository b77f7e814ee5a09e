package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportTestBundle(t *testing.T, n int, signer *Signer) *ProofBundle {
	t.Helper()
	ctx := context.Background()
	l, _ := newTestLog(t)
	for i := 0; i < n; i++ {
		_, err := l.Record(ctx, record("univ-a", "d1"))
		require.NoError(t, err)
	}
	b, err := l.Export(ctx, "univ-a", signer)
	require.NoError(t, err)
	return b
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return s
}

func TestProofBundle_RoundTripVerifies(t *testing.T) {
	b := exportTestBundle(t, 5, testSigner(t))

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var decoded ProofBundle
	require.NoError(t, json.Unmarshal(data, &decoded))

	result := decoded.Verify()
	assert.True(t, result.Valid, result.Error)
	assert.True(t, result.MerkleRootValid)
	assert.True(t, result.AttestationValid)
	assert.Equal(t, uint64(5), result.EntryCount)
}

func TestProofBundle_IndentedRoundTripVerifies(t *testing.T) {
	b := exportTestBundle(t, 3, testSigner(t))

	data, err := json.MarshalIndent(b, "", "  ")
	require.NoError(t, err)
	var decoded ProofBundle
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, string(decoded.Entries[0].Data), "\n")

	result := decoded.Verify()
	assert.True(t, result.Valid, result.Error)
}

func TestProofBundle_EmptyChain(t *testing.T) {
	b := exportTestBundle(t, 0, nil)
	result := b.Verify()
	assert.True(t, result.Valid)
	assert.Empty(t, b.MerkleRoot)
}

func TestProofBundle_DetectsTamperedEntry(t *testing.T) {
	b := exportTestBundle(t, 4, nil)
	b.Entries[1].ActorID = "intruder"

	result := b.Verify()
	assert.False(t, result.Valid)
	assert.False(t, result.HashChainValid)
	assert.Contains(t, result.Error, "seq 2")
}

func TestProofBundle_DetectsTruncation(t *testing.T) {
	b := exportTestBundle(t, 4, nil)
	b.Entries = b.Entries[:3]

	result := b.Verify()
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "last hash mismatch")
}

func TestProofBundle_DetectsForgedAttestation(t *testing.T) {
	b := exportTestBundle(t, 3, testSigner(t))
	b.Attestation.LastHash = "forged"

	result := b.Verify()
	assert.False(t, result.Valid)
	assert.False(t, result.AttestationValid)
}

func TestMerkleRoot(t *testing.T) {
	assert.Empty(t, MerkleRoot(nil))

	one := MerkleRoot([]string{"a"})
	assert.Len(t, one, 64)

	three := MerkleRoot([]string{"a", "b", "c"})
	assert.NotEqual(t, three, MerkleRoot([]string{"a", "c", "b"}), "order matters")
	assert.Equal(t, three, MerkleRoot([]string{"a", "b", "c"}))
}

func TestDeriveSigner_PerTenant(t *testing.T) {
	master := bytes.Repeat([]byte{1}, 32)
	a, err := DeriveSigner(master, "univ-a")
	require.NoError(t, err)
	a2, err := DeriveSigner(master, "univ-a")
	require.NoError(t, err)
	b, err := DeriveSigner(master, "univ-b")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), a2.PublicKey())
	assert.NotEqual(t, a.PublicKey(), b.PublicKey())

	msg := []byte("head")
	assert.True(t, VerifySignature(a.PublicKey(), msg, a.Sign(msg)))
	assert.False(t, VerifySignature(b.PublicKey(), msg, a.Sign(msg)))

	_, err = NewSigner([]byte("short"))
	assert.Error(t, err)
}
