// Package loki reads pipeline task logs from a Grafana Loki instance.
package loki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// Sentinel errors for Loki client failures.
var (
	ErrLokiUnreachable = errors.New("loki unreachable")
	ErrLokiQueryError  = errors.New("loki query error")
	ErrLokiTimeout     = errors.New("loki query timeout")
)

const (
	defaultRetries       = 2
	defaultRetryInterval = 250 * time.Millisecond
	maxErrorBody         = 4 << 10
)

// Client is the interface for querying Loki.
type Client interface {
	QueryRange(ctx context.Context, req QueryRangeRequest) ([]models.LogLine, error)
	Ready(ctx context.Context) error
}

// QueryRangeRequest defines parameters for a Loki range query.
type QueryRangeRequest struct {
	Query     string
	Start     time.Time
	End       time.Time
	Limit     int
	Direction string
}

// HTTPClient implements Client on Loki's HTTP API. Range queries that fail
// with a 5xx, a 429 or a refused connection are retried with exponential
// backoff; timeouts and other 4xx responses are not.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	orgID    string
	client   *http.Client

	retries       uint64
	retryInterval time.Duration
}

type Option func(*HTTPClient)

// WithRetries sets how many times a failed range query is retried.
func WithRetries(n uint64) Option {
	return func(c *HTTPClient) {
		c.retries = n
	}
}

func NewHTTPClient(baseURL, username, password, orgID string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		username:      username,
		password:      password,
		orgID:         orgID,
		client:        &http.Client{Timeout: timeout},
		retries:       defaultRetries,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryRange returns the matching lines of every stream merged in
// timestamp order. The order follows Direction ("forward" by default).
func (c *HTTPClient) QueryRange(ctx context.Context, req QueryRangeRequest) ([]models.LogLine, error) {
	direction := req.Direction
	if direction == "" {
		direction = "forward"
	}

	params := url.Values{
		"query":     {req.Query},
		"start":     {strconv.FormatInt(req.Start.UnixNano(), 10)},
		"end":       {strconv.FormatInt(req.End.UnixNano(), 10)},
		"direction": {direction},
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}
	u := c.baseURL + "/loki/api/v1/query_range?" + params.Encode()

	var result lokiQueryResponse
	attempt := func() error {
		result = lokiQueryResponse{}
		return c.getJSON(ctx, u, &result)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, classifyError(err)
		}
		return nil, err
	}

	if result.Data.ResultType != "" && result.Data.ResultType != "streams" {
		return nil, fmt.Errorf("%w: expected streams, got %s result", ErrLokiQueryError, result.Data.ResultType)
	}
	return parseStreams(result.Data.Result, direction == "backward"), nil
}

// getJSON performs one GET and decodes a 200 body into out. Errors that are
// not worth retrying are returned as backoff.Permanent.
func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		err = classifyError(err)
		if errors.Is(err, ErrLokiTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: status %d%s", ErrLokiQueryError, resp.StatusCode, errorDetail(resp.Body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding loki response: %w", err))
	}
	return nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLokiUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: loki not ready (status %d)", ErrLokiUnreachable, resp.StatusCode)
	}
	return nil
}

// Ping lets the client serve as a health check component.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.Ready(ctx)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if c.orgID != "" {
		req.Header.Set("X-Scope-OrgID", c.orgID)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrLokiTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrLokiTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrLokiUnreachable, err)
}

// errorDetail extracts Loki's error message from a failed response, either
// the JSON "error" field or the plain-text body.
func errorDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if msg == "" {
		return ""
	}
	return ": " + msg
}

// parseStreams flattens Loki streams into one timestamp-ordered slice.
func parseStreams(streams []lokiStream, newestFirst bool) []models.LogLine {
	lines := []models.LogLine{}
	for _, stream := range streams {
		level := stream.Stream["level"]
		task := stream.Stream["task"]
		for _, v := range stream.Values {
			ts, _ := strconv.ParseInt(v[0], 10, 64)
			lines = append(lines, models.LogLine{
				Timestamp: time.Unix(0, ts).UTC(),
				Message:   v[1],
				Labels:    stream.Stream,
				Level:     level,
				Task:      task,
			})
		}
	}
	slices.SortStableFunc(lines, func(a, b models.LogLine) int {
		if newestFirst {
			return b.Timestamp.Compare(a.Timestamp)
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
	return lines
}

type lokiQueryResponse struct {
	Data lokiData `json:"data"`
}

type lokiData struct {
	ResultType string       `json:"resultType"`
	Result     []lokiStream `json:"result"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

var _ Client = (*HTTPClient)(nil)
