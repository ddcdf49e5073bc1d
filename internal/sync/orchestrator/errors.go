package orchestrator

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	dErrors "consentsync/pkg/domain-errors"
	"consentsync/pkg/platform/sentinel"
)

// ErrArchiveUnconfirmed is in the chain of an Archive error when the consent
// was already moved locally but the backend did not confirm it. Local state
// may diverge from the remote until connectivity returns.
var ErrArchiveUnconfirmed = errors.New("archive applied locally but not confirmed by backend")

// classify turns a backend failure into a coded error. ctx is the bounded
// context of the operation that failed.
func classify(ctx context.Context, err error, op string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, op+": not found")
	case isConnectivity(err):
		return dErrors.Wrap(err, dErrors.CodeConnectivity, op+": backend unreachable")
	default:
		return dErrors.Wrap(err, dErrors.CodeRemote, op+" failed")
	}
}

func isConnectivity(err error) bool {
	if errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryable reports whether a background cycle failure should drive backoff.
func retryable(err error) bool {
	return dErrors.Is(err, dErrors.CodeConnectivity) || dErrors.Is(err, dErrors.CodeTimeout)
}

func aborted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "load cycle timed out")
	}
	return dErrors.Wrap(ctx.Err(), dErrors.CodeInternal, "load cycle cancelled")
}
