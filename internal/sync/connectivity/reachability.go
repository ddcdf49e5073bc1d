package connectivity

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// internetReachable tries each endpoint in order with a HEAD request and
// succeeds on the first one that answers with any status. Requests carry a
// cache-busting query parameter so intermediaries cannot answer for the host.
func (m *Monitor) internetReachable(ctx context.Context) bool {
	for _, endpoint := range m.endpoints {
		if ctx.Err() != nil {
			return false
		}
		ok := m.headOnce(ctx, endpoint)
		m.metrics.RecordProbe("internet", ok)
		if ok {
			return true
		}
	}
	m.logger.WarnContext(ctx, "no reachability endpoint answered", "endpoints", len(m.endpoints))
	return false
}

func (m *Monitor) headOnce(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	u, err := url.Parse(endpoint)
	if err != nil {
		m.logger.WarnContext(ctx, "invalid reachability endpoint", "endpoint", endpoint, "error", err)
		return false
	}
	q := u.Query()
	q.Set("_cb", strconv.FormatInt(m.now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.DebugContext(ctx, "reachability probe failed", "endpoint", u.Host, "error", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}
