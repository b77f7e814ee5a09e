// Package audit provides the per-tenant, hash-chained audit log of every
// state-changing diploma operation.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Action identifies what a logged operation did.
type Action string

const (
	ActionDiplomaCreated    Action = "DIPLOMA_CREATED"
	ActionDiplomaValidated  Action = "DIPLOMA_VALIDATED"
	ActionSignatureAppended Action = "SIGNATURE_APPENDED"
	ActionDiplomaIssued     Action = "DIPLOMA_ISSUED"
	ActionDiplomaArchived   Action = "DIPLOMA_ARCHIVED"
	ActionDiplomaCancelled  Action = "DIPLOMA_CANCELLED"
	ActionDiplomaReissued   Action = "DIPLOMA_REISSUED"
)

// FirstSequence is the sequence number of a tenant's first entry.
// Sequences are 1-indexed so that seq=0 means "no previous entry".
const FirstSequence uint64 = 1

// emptyData is stored when an entry carries no detail.
var emptyData = json.RawMessage(`{}`)

// Entry is one link of a tenant's hash chain.
type Entry struct {
	TenantID  string          `json:"tenantId"`
	Sequence  uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Action    Action          `json:"action"`
	ActorID   string          `json:"actorId"`
	SubjectID string          `json:"subjectId"`
	Data      json.RawMessage `json:"data"`
	PrevHash  string          `json:"prev"`
	Hash      string          `json:"hash"`
}

func newEntry(seq uint64, prevHash string, r Record, data json.RawMessage, ts time.Time) *Entry {
	e := &Entry{
		TenantID:  r.TenantID,
		Sequence:  seq,
		Timestamp: ts,
		Action:    r.Action,
		ActorID:   r.ActorID,
		SubjectID: r.SubjectID,
		Data:      data,
		PrevHash:  prevHash,
	}
	e.Hash = e.computeHash()
	return e
}

// computeHash calculates SHA-256(prev || seq || ts || tenant || action || actor || subject || data).
// Variable-length fields are length-prefixed so adjacent fields cannot bleed
// into each other.
func (e *Entry) computeHash() string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Sequence)
	h.Write(seq[:])

	for _, field := range [][]byte{
		[]byte(formatTime(e.Timestamp)),
		[]byte(e.TenantID),
		[]byte(e.Action),
		[]byte(e.ActorID),
		[]byte(e.SubjectID),
		e.canonicalData(),
	} {
		h.Write(binary.AppendUvarint(nil, uint64(len(field))))
		h.Write(field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalData returns Data in compact form. An exported bundle may have
// been re-indented, which must not change the hash.
func (e *Entry) canonicalData() []byte {
	if len(e.Data) == 0 {
		return emptyData
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Data); err != nil {
		return e.Data
	}
	return buf.Bytes()
}

// Verify checks if the entry's hash matches its fields.
func (e *Entry) Verify() bool {
	return e.Hash == e.computeHash()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
