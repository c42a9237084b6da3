package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/taskrouter-client/logging"
	"github.com/st-keller/taskrouter-client/metrics"
)

// DefaultTimeout bounds every command call.
const DefaultTimeout = 5 * time.Second

// ClientOptions configures NewClient.
type ClientOptions struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Connectivity *Connectivity
}

// Client posts command envelopes to the event relay.
type Client struct {
	endpoint     string
	http         *http.Client
	timeout      time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics
	connectivity *Connectivity
}

// NewClient creates a relay client for endpoint.
func NewClient(endpoint string, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn := opts.Connectivity
	if conn == nil {
		conn = NewConnectivity()
	}
	return &Client{
		endpoint:     endpoint,
		http:         httpClient,
		timeout:      timeout,
		log:          logging.Component(opts.Logger, "command"),
		metrics:      opts.Metrics,
		connectivity: conn,
	}
}

// Connectivity returns the tracker fed by this client.
func (c *Client) Connectivity() *Connectivity {
	return c.connectivity
}

// Send posts req to the relay and returns the "payload" member of the response.
func (c *Client) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	payload, err := c.send(ctx, req)
	latency := time.Since(start)

	c.metrics.Command(ctx, req.Method, latency, err)
	if err != nil {
		c.connectivity.TrackFailure(req.URL, latency, err.Error())
		c.log.Debug("command failed", "method", req.Method, "url", req.URL, "error", err, "latency_ms", latency.Milliseconds())
		return nil, err
	}
	c.connectivity.TrackSuccess(req.URL, latency)
	return payload, nil
}

func (c *Client) send(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindMalformedRequest, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindRequestFailed, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindRequestFailed, Message: "request timed out"}
		}
		return nil, &Error{Kind: KindRequestFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindRequestFailed, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, FromStatus(resp.StatusCode)
	}

	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &Error{Kind: KindRequestFailed, StatusCode: resp.StatusCode, Message: "invalid response body: " + err.Error()}
	}
	return envelope.Payload, nil
}
