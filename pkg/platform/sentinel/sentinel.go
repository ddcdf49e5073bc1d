package sentinel

import "errors"

// Sentinel errors for infrastructure facts. KV tiers, the remote backend and
// realtime channels return these (optionally wrapped) so the orchestrator can
// translate them into coded domain errors.
//
//   - ErrNotFound: key, row or lookup target does not exist
//   - ErrUnavailable: backend or store temporarily unreachable
//   - ErrClosed: component already shut down
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrClosed      = errors.New("closed")
)
