package diploma

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Lifecycle errors. Each wraps a containerd/errdefs class so transports can
// classify them with errdefs.IsNotFound, errdefs.IsConflict and friends.
var (
	ErrNotFound                        = fmt.Errorf("diploma not found: %w", errdefs.ErrNotFound)
	ErrInvalidTransition               = fmt.Errorf("invalid status transition: %w", errdefs.ErrConflict)
	ErrInvalidDiplomaState             = fmt.Errorf("diploma is not open for signatures: %w", errdefs.ErrFailedPrecondition)
	ErrDuplicateSignature              = fmt.Errorf("signer has already signed this diploma: %w", errdefs.ErrAlreadyExists)
	ErrUnauthorizedSigner              = fmt.Errorf("signer role is not authorized for this tenant: %w", errdefs.ErrPermissionDenied)
	ErrQuorumNotMet                    = fmt.Errorf("signature quorum not met: %w", errdefs.ErrFailedPrecondition)
	ErrReplacementOfNonTerminalDiploma = fmt.Errorf("only signed diplomas can be replaced: %w", errdefs.ErrFailedPrecondition)
	ErrAlreadyReplaced                 = fmt.Errorf("diploma already has a replacement: %w", errdefs.ErrAlreadyExists)
	ErrChainIntegrity                  = fmt.Errorf("chain integrity violation: %w", errdefs.ErrDataLoss)
	ErrInvalidInput                    = fmt.Errorf("invalid input: %w", errdefs.ErrInvalidArgument)
)

// Code returns a stable, machine-readable name for a lifecycle error, or
// "internal" when err is not one of them.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrInvalidDiplomaState, "invalid_diploma_state"},
	{ErrDuplicateSignature, "duplicate_signature"},
	{ErrUnauthorizedSigner, "unauthorized_signer"},
	{ErrQuorumNotMet, "quorum_not_met"},
	{ErrReplacementOfNonTerminalDiploma, "replacement_of_non_terminal_diploma"},
	{ErrAlreadyReplaced, "already_replaced"},
	{ErrChainIntegrity, "chain_integrity"},
	{ErrInvalidInput, "invalid_input"},
}
