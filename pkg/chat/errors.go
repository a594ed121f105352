package chat

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/pkg/errors"
)

// The transport failure taxonomy. Only timeouts and connectivity losses are
// recoverable; cancellation is the expected result of Cancel racing the
// network layer, and provider errors leave the conversation untouched.
var (
	ErrCancelled    = errors.New("request cancelled")
	ErrTimeout      = errors.New("request timed out")
	ErrConnectivity = errors.New("connection lost")
)

// ProviderError is a non-2xx answer from the completion provider
// (validation, auth, rate limit). It is logged and surfaced generically; no
// sentinel is inserted for it.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Body)
}

// IsRecoverable reports whether the failure warrants a connectivity
// sentinel.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectivity)
}

// classify maps a transport error onto the taxonomy. The request context is
// consulted first: a cancelled context wins over whatever the HTTP layer
// reported, since Cancel may race the round-trip.
func classify(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return errors.Wrap(ErrCancelled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.Wrap(ErrConnectivity, err.Error())
	}

	return err
}
