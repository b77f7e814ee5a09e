package diploma

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusValidated, true},
		{StatusValidated, StatusPartiallySigned, true},
		{StatusValidated, StatusSigned, true},
		{StatusPartiallySigned, StatusSigned, true},
		{StatusSigned, StatusIssued, true},
		{StatusIssued, StatusArchived, true},
		{StatusValidated, StatusCancelled, true},
		{StatusPartiallySigned, StatusCancelled, true},
		{StatusSigned, StatusCancelled, true},

		{StatusDraft, StatusSigned, false},
		{StatusDraft, StatusCancelled, false},
		{StatusPartiallySigned, StatusValidated, false},
		{StatusSigned, StatusPartiallySigned, false},
		{StatusValidated, StatusIssued, false},
		{StatusIssued, StatusCancelled, false},
		{StatusCancelled, StatusValidated, false},
		{StatusArchived, StatusIssued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusCancelled || s == StatusArchived
		assert.Equal(t, want, s.Terminal(), "status %s", s)
	}
}

func TestStatus_Authentic(t *testing.T) {
	assert.True(t, StatusSigned.Authentic())
	assert.True(t, StatusIssued.Authentic())
	assert.True(t, StatusArchived.Authentic())
	assert.False(t, StatusValidated.Authentic())
	assert.False(t, StatusPartiallySigned.Authentic())
	assert.False(t, StatusCancelled.Authentic())
	assert.False(t, StatusDraft.Authentic())
}

func TestQuorumStatus(t *testing.T) {
	assert.Equal(t, StatusPartiallySigned, QuorumStatus(1, 2))
	assert.Equal(t, StatusSigned, QuorumStatus(2, 2))
	assert.Equal(t, StatusSigned, QuorumStatus(3, 2))
	assert.Equal(t, StatusSigned, QuorumStatus(1, 1))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("PARTIALLY_SIGNED")
	assert.NoError(t, err)
	assert.Equal(t, StatusPartiallySigned, s)

	_, err = ParseStatus("signed-ish")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
