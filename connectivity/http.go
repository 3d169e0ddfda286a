package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/dommirror/horosafe"
)

// maxHTTPResponseBody caps what is read from a remote endpoint. Child
// lists of large documents are the biggest payloads.
const maxHTTPResponseBody int64 = 32 << 20

type httpConfig struct {
	TimeoutMs int64 `json:"timeout_ms"`
	// AllowPrivate lets the route target loopback and private networks,
	// e.g. a sibling daemon on the same host.
	AllowPrivate bool `json:"allow_private"`
}

// HTTPFactory builds handlers that POST the payload as JSON to the
// endpoint. Endpoints on private or loopback addresses are refused unless
// the route config sets allow_private.
//
//	router.RegisterTransport("http", connectivity.HTTPFactory())
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		var cfg httpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: route config: %w", err)
			}
		}
		check := horosafe.ValidateURL
		if cfg.AllowPrivate {
			check = horosafe.ValidateScheme
		}
		if err := check(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}

		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		client := &http.Client{Timeout: timeout}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			body, err := horosafe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &ErrRemoteStatus{Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
			}
			return body, nil
		}

		return handler, client.CloseIdleConnections, nil
	}
}
