package conversation

import (
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// Error classes surfaced by Manager operations. Every returned error wraps
// exactly one of these, so callers branch with errors.Is and can still
// unwrap to the underlying cause.
var (
	// ErrNotFound: the thread id has never been initialized.
	ErrNotFound = ports.ErrNotFound
	// ErrStorage: the thread store failed to load or save.
	ErrStorage = errors.New("storage failure")
	// ErrCompletion: the completion service errored, timed out, was canceled or refused by the rate limiter.
	ErrCompletion = errors.New("completion failure")
	// ErrInvariantViolation signals a bug in this package, never bad input.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrEmptyContent rejects messages whose text is blank.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrInvalidSettings is returned by NewManager for inconsistent budgets or policies.
	ErrInvalidSettings = errors.New("invalid conversation settings")
)

func fmtInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
}
