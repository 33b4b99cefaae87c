package monitor

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Sentinel errors for the failure taxonomy the scheduler keys its policy on.
var (
	// ErrChallenged means the edge network interposed a bot-mitigation
	// challenge instead of real content. Forces session invalidation.
	ErrChallenged = errors.New("mitigation challenge detected")

	// ErrStructureMismatch means the page fetched cleanly but does not look
	// like the expected source. Treated like a mitigation error.
	ErrStructureMismatch = errors.New("page structure mismatch")

	// ErrNoItems means a valid page yielded no candidate items after every
	// discovery fallback. Ends the cycle without escalation.
	ErrNoItems = errors.New("no items found")

	// ErrResource marks memory or descriptor exhaustion. Triggers
	// reclamation, cooldown, and a forced state reload.
	ErrResource = errors.New("resource exhaustion")

	// ErrRestartRequested is returned by the scheduler when the restart
	// policy fired but no restart hook replaced the process.
	ErrRestartRequested = errors.New("restart requested")
)

// ErrorClass buckets an error for scheduler policy decisions.
type ErrorClass int

// Policy classes, ordered roughly by severity of response.
const (
	ClassGeneric ErrorClass = iota
	ClassTransport
	ClassMitigation
	ClassEmpty
	ClassResource
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassMitigation:
		return "mitigation"
	case ClassEmpty:
		return "empty"
	case ClassResource:
		return "resource"
	default:
		return "generic"
	}
}

// Classify maps an error onto its policy class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassGeneric
	case errors.Is(err, ErrChallenged), errors.Is(err, ErrStructureMismatch):
		return ClassMitigation
	case errors.Is(err, ErrNoItems):
		return ClassEmpty
	case errors.Is(err, ErrResource):
		return ClassResource
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransport
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many open files"),
		strings.Contains(msg, "cannot allocate memory"):
		return ClassResource
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"):
		return ClassTransport
	}
	return ClassGeneric
}
