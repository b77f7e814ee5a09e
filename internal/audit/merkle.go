package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain separation prefixes prevent second-preimage attacks.
const (
	leafPrefix     byte = 0x00
	internalPrefix byte = 0x01
)

func leafHash(entryHash string) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write([]byte(entryHash))
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{internalPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// MerkleRoot computes the root over entry hashes in chain order. An odd node
// at any level is promoted unchanged. The root of no entries is "".
func MerkleRoot(entryHashes []string) string {
	if len(entryHashes) == 0 {
		return ""
	}
	level := make([][]byte, len(entryHashes))
	for i, eh := range entryHashes {
		level[i] = leafHash(eh)
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}
