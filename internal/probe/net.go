package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
)

// HTTPChecker issues a GET and expects a 2xx answer.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker returns a checker for url using http.DefaultClient.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{URL: url, Client: http.DefaultClient}
}

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode/100 != 2 {
		return NotReadyf("GET %s returned %d", c.URL, resp.StatusCode)
	}
	return nil
}

// TCPChecker only verifies that a connection can be opened.
type TCPChecker struct {
	Address string
}

func (c *TCPChecker) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Address, err)
	}
	_ = conn.Close()
	return nil
}
