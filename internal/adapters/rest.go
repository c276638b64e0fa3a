package adapters

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// restClient is the HTTP plumbing shared by REST adapters: one pooled
// http.Client per adapter, auth injection, JSON codec, and a circuit breaker
// that opens after repeated consecutive failures.
type restClient struct {
	name    string
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newRESTClient(name string, cfg Config) *restClient {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &restClient{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("adapter", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("adapter circuit breaker state changed")
			},
		}),
	}
}

// doJSON issues one request through the breaker, decoding a JSON response
// into out when out is non-nil.
func (c *restClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.once(ctx, method, path, body, out)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return argerr.Transient("adapter_request", fmt.Errorf("adapter %s circuit open", c.name))
	}
	return err
}

func (c *restClient) once(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(c.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return argerr.Adapter("adapter_request", c.name, err, argerr.AdapterUnavailable)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return argerr.New(argerr.KindAdapter, "adapter_request", c.name,
			fmt.Errorf("authentication rejected (%d)", resp.StatusCode)).
			WithClass(argerr.AdapterAuthFailed).WithStatusCode(resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return argerr.New(argerr.KindAdapter, "adapter_request", c.name,
			fmt.Errorf("rate limited")).
			WithClass(argerr.AdapterRateLimited).WithStatusCode(resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return argerr.NotFound("adapter_request", c.name+path)
	case resp.StatusCode >= 500:
		return argerr.Transient("adapter_request",
			fmt.Errorf("%s upstream error %d: %s", c.name, resp.StatusCode, truncate(payload, 200)))
	case resp.StatusCode >= 400:
		return argerr.New(argerr.KindAdapter, "adapter_request", c.name,
			fmt.Errorf("request rejected %d: %s", resp.StatusCode, truncate(payload, 200))).
			WithClass(argerr.AdapterInvalid).WithStatusCode(resp.StatusCode)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", c.name, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
