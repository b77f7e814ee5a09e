package diploma

import "fmt"

// Status is the lifecycle state of a diploma record.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusValidated       Status = "VALIDATED"
	StatusPartiallySigned Status = "PARTIALLY_SIGNED"
	StatusSigned          Status = "SIGNED"
	StatusIssued          Status = "ISSUED"
	StatusArchived        Status = "ARCHIVED"
	StatusCancelled       Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft,
	StatusValidated,
	StatusPartiallySigned,
	StatusSigned,
	StatusIssued,
	StatusArchived,
	StatusCancelled,
}

// transitions is the allowed (from, to) table. Cancellation edges are listed
// here but only reachable through a replacement.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusValidated},
	StatusValidated:       {StatusPartiallySigned, StatusSigned, StatusCancelled},
	StatusPartiallySigned: {StatusSigned, StatusCancelled},
	StatusSigned:          {StatusIssued, StatusCancelled},
	StatusIssued:          {StatusArchived},
}

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// CanTransition reports whether (from, to) is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Authentic reports whether a record in this status certifies a diploma.
func (s Status) Authentic() bool {
	switch s {
	case StatusSigned, StatusIssued, StatusArchived:
		return true
	}
	return false
}

// OpenForSignatures reports whether signatures may still be appended.
func (s Status) OpenForSignatures() bool {
	return s == StatusValidated || s == StatusPartiallySigned
}

// Cancellable reports whether a replacement may cancel a record in this status.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// QuorumStatus returns the status a record reaches once it carries count
// signatures against a quorum of required.
func QuorumStatus(count, required int) Status {
	if count >= required {
		return StatusSigned
	}
	return StatusPartiallySigned
}
