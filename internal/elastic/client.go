// Package elastic wraps the Elasticsearch client for the readiness probe and
// the index operations used by the ETL stages.
package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// Options configures the client.
type Options struct {
	Addresses []string
	Username  string
	Password  string
	Timeout   time.Duration // per-request response header timeout
}

// Client is a thin wrapper that decodes the responses bootgate needs.
type Client struct {
	es *elasticsearch.Client
}

// New builds a client. No request is made.
func New(opts Options) (*Client, error) {
	if len(opts.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses must not be empty")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Timeout > 0 {
		transport.ResponseHeaderTimeout = opts.Timeout
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    opts.Addresses,
		Username:     opts.Username,
		Password:     opts.Password,
		Transport:    transport,
		DisableRetry: true, // the gate owns retries
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{es: es}, nil
}

type clusterHealth struct {
	Status string `json:"status"`
}

// Check queries cluster health once. A red cluster or an error status is
// reachable but not ready.
func (c *Client) Check(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch health request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return probe.NotReadyf("cluster health returned %s", res.Status())
	}

	var health clusterHealth
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return probe.NotReadyf("undecodable cluster health: %v", err)
	}
	if health.Status == "red" {
		return probe.NotReadyf("cluster status is red")
	}
	return nil
}

// ResponseError is a non-2xx answer from Elasticsearch.
type ResponseError struct {
	Op     string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("elasticsearch %s failed with status %d: %s", e.Op, e.Status, e.Body)
}

func checkResponse(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &ResponseError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
}
