// Package netinfo discovers the host's public address.
package netinfo

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/saveenergy/netgauge/internal/logging"
)

const maxBody = 256

// Resolver asks a plain-text lookup service (one address in the body) for
// the caller's external IP.
type Resolver struct {
	url        string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewResolver(lookupURL string, timeout time.Duration) *Resolver {
	return &Resolver{
		url:        lookupURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLogger("netinfo"),
	}
}

// ExternalIP returns the address reported by the lookup service. An empty or
// malformed answer is an error.
func (r *Resolver) ExternalIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read ip lookup: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup: status %d", resp.StatusCode)
	}
	addr := strings.TrimSpace(string(body))
	if addr == "" {
		return "", fmt.Errorf("ip lookup: empty response")
	}
	if net.ParseIP(addr) == nil {
		return "", fmt.Errorf("ip lookup: %q is not an IP address", addr)
	}
	r.logger.Debug("external ip resolved", logging.F("ip", addr))
	return addr, nil
}
