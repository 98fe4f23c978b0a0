package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/store"
)

const (
	// decidePath is the classification endpoint, relative to the base
	// URL.
	decidePath = "/v1/decide"

	// draftPath is the draft composition endpoint.
	draftPath = "/v1/draft"

	// defaultTimeout bounds a single provider call. The pipeline leaves
	// the triggering event unprocessed on failure, so a timeout here is
	// a retry, not a loss.
	defaultTimeout = 2 * time.Minute

	// maxResponseBytes caps how much of a provider response we read.
	maxResponseBytes = 1 << 20
)

// HTTPClient implements both provider interfaces against a model serving
// endpoint speaking a small JSON contract.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPClientOption customizes an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPTimeout overrides the per-call timeout.
func WithHTTPTimeout(timeout time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = timeout
	}
}

// NewHTTPClient creates a provider client rooted at the given base URL.
func NewHTTPClient(baseURL string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compile time checks that HTTPClient implements both provider interfaces.
var (
	_ DecisionProvider = (*HTTPClient)(nil)
	_ DraftProvider    = (*HTTPClient)(nil)
)

// providerRequest is the request body both endpoints accept.
type providerRequest struct {
	ThreadMessages []ThreadMessage `json:"thread_messages"`
}

// verdictResponse is the wire form of a classification verdict.
type verdictResponse struct {
	Action     string   `json:"action"`
	Intent     *string  `json:"intent"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// draftResponse is the wire form of a composed draft.
type draftResponse struct {
	Subject    *string  `json:"subject"`
	Body       string   `json:"body"`
	Confidence *float64 `json:"confidence"`
}

// Decide classifies the conversation via the decide endpoint, validating
// the response strictly: an out-of-contract verdict is an error, never a
// silent default.
func (c *HTTPClient) Decide(ctx context.Context,
	messages []ThreadMessage) (Verdict, error) {

	var resp verdictResponse
	err := c.post(ctx, decidePath, messages, &resp)
	if err != nil {
		return Verdict{}, err
	}

	action := store.DecisionAction(resp.Action)
	if !action.Valid() {
		return Verdict{}, fmt.Errorf("provider returned unknown "+
			"action %q", resp.Action)
	}
	if resp.Reason == "" {
		return Verdict{}, fmt.Errorf("provider returned verdict " +
			"without a reason")
	}

	confidence := fn.None[float64]()
	if resp.Confidence != nil {
		if *resp.Confidence < 0 || *resp.Confidence > 1 {
			return Verdict{}, fmt.Errorf("provider confidence "+
				"%v outside [0, 1]", *resp.Confidence)
		}
		confidence = fn.Some(*resp.Confidence)
	}

	intent := fn.None[string]()
	if resp.Intent != nil && *resp.Intent != "" {
		intent = fn.Some(*resp.Intent)
	}

	return Verdict{
		Action:     action,
		Intent:     intent,
		Confidence: confidence,
		Reason:     resp.Reason,
	}, nil
}

// Draft composes a reply via the draft endpoint. A draft without a body or
// a confidence score is rejected: both feed the downstream gates.
func (c *HTTPClient) Draft(ctx context.Context,
	messages []ThreadMessage) (DraftReply, error) {

	var resp draftResponse
	err := c.post(ctx, draftPath, messages, &resp)
	if err != nil {
		return DraftReply{}, err
	}

	if resp.Body == "" {
		return DraftReply{}, fmt.Errorf("provider returned draft " +
			"without a body")
	}
	if resp.Confidence == nil {
		return DraftReply{}, fmt.Errorf("provider returned draft " +
			"without a confidence score")
	}
	if *resp.Confidence < 0 || *resp.Confidence > 1 {
		return DraftReply{}, fmt.Errorf("provider confidence %v "+
			"outside [0, 1]", *resp.Confidence)
	}

	subject := fn.None[string]()
	if resp.Subject != nil && *resp.Subject != "" {
		subject = fn.Some(*resp.Subject)
	}

	return DraftReply{
		Subject:    subject,
		Body:       resp.Body,
		Confidence: *resp.Confidence,
	}, nil
}

// post executes one JSON round trip against the provider.
func (c *HTTPClient) post(ctx context.Context, path string,
	messages []ThreadMessage, out any) error {

	body, err := json.Marshal(providerRequest{
		ThreadMessages: messages,
	})
	if err != nil {
		return fmt.Errorf("unable to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider call to %s failed: %w",
			path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("unable to read provider response: %w",
			err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d: %s",
			resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unable to decode provider response: %w",
			err)
	}

	return nil
}
