// Package chainclient talks to the blockchain node that mirrors batch
// custody. The chain is treated as an opaque remote service: commands go
// out over HTTP, a transaction hash or an error comes back.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is the chain surface the custody engine consumes. Calls must be
// safe to retry; the engine does not guarantee exactly-once invocation.
type Client interface {
	// MintToken registers a new token for a batch and returns the tx hash.
	MintToken(ctx context.Context, tokenID, metadataRef, ownerAddress string) (string, error)
	// TransferToken moves an existing token to a new holder.
	TransferToken(ctx context.Context, tokenID, fromAddress, toAddress string) (string, error)
	// Health checks whether the chain node is reachable.
	Health(ctx context.Context) error
	Close() error
}

// RejectedError marks a command the chain node refused outright (bad
// token, wrong owner). Rejections are not retried.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chain rejected command (status %d): %s", e.StatusCode, e.Reason)
}

// HTTPClient implements Client against the chain node's HTTP API with a
// bounded retry loop for transient failures.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	log        *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRetry sets the attempt budget and the fixed delay between attempts.
func WithRetry(attempts int, backoff time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = backoff
	}
}

// WithTimeout bounds each individual HTTP call.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.httpClient.Timeout = timeout }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) HTTPOption {
	return func(c *HTTPClient) { c.log = log }
}

// NewHTTPClient creates a chain client for the given node endpoint,
// defaulting to 3 attempts with a 2s backoff and a 30s per-call timeout.
func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 3,
		backoff:  2 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type mintRequest struct {
	TokenID      string `json:"token_id"`
	MetadataRef  string `json:"metadata_ref"`
	OwnerAddress string `json:"owner_address"`
}

type transferRequest struct {
	TokenID     string `json:"token_id"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// MintToken submits a mint command for a new batch token.
func (c *HTTPClient) MintToken(ctx context.Context, tokenID, metadataRef, ownerAddress string) (string, error) {
	return c.submit(ctx, "/chain/mint", mintRequest{
		TokenID:      tokenID,
		MetadataRef:  metadataRef,
		OwnerAddress: ownerAddress,
	})
}

// TransferToken submits a transfer command for an existing token.
func (c *HTTPClient) TransferToken(ctx context.Context, tokenID, fromAddress, toAddress string) (string, error) {
	return c.submit(ctx, "/chain/transfer", transferRequest{
		TokenID:     tokenID,
		FromAddress: fromAddress,
		ToAddress:   toAddress,
	})
}

// Health checks the chain node status endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/chain/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain node unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain node health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Close releases client resources.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// submit posts a command, retrying transient failures up to the attempt
// budget with a fixed backoff. A 4xx response is a rejection and is
// returned immediately.
func (c *HTTPClient) submit(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chain command: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff):
			}
		}

		txHash, err := c.post(ctx, path, body)
		if err == nil {
			return txHash, nil
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return "", err
		}
		lastErr = err
		c.log.Warn("chain command failed",
			"path", path,
			"attempt", attempt,
			"attempts", c.attempts,
			"error", err)
	}
	return "", fmt.Errorf("chain command failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chain response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		reason := strings.TrimSpace(string(respBody))
		var parsed txResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			reason = parsed.Error
		}
		return "", &RejectedError{StatusCode: resp.StatusCode, Reason: reason}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("chain returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed txResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse chain response: %w", err)
	}
	if parsed.TxHash == "" {
		return "", fmt.Errorf("chain response missing tx hash")
	}
	return parsed.TxHash, nil
}
