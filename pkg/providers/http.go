package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"golang.org/x/time/rate"

	"github.com/tombee/checkflow/pkg/engine"
	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// HTTP fetches a URL and optionally extracts a value from a JSON
// response body with a gojq query. Rate limiting is composed in front
// of every request via golang.org/x/time/rate so a chatty check can't
// starve a shared upstream; the limiter honors the engine's
// CancelHandle through rate.Limiter.Wait(ctx).
type HTTP struct {
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewHTTP constructs an HTTP adapter. ratePerSecond <= 0 disables
// limiting (an unlimited burst-of-1 limiter).
func NewHTTP(timeout time.Duration, ratePerSecond float64) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &HTTP{
		Client:  &http.Client{Timeout: timeout},
		Limiter: rate.NewLimiter(limit, 1),
	}
}

// Execute implements engine.ProviderAdapter. The rendered payload
// accepts: url (required), method (default GET), body (string,
// optional), headers (map[string]any, optional), extract (a gojq
// expression applied to a JSON response body; absent means "return the
// raw body as a string").
func (h *HTTP) Execute(ctx context.Context, check engine.CheckDefinition, payload map[string]any, _ map[string]engine.CheckResult, cancel engine.CancelHandle) engine.CheckResult {
	startedAt := time.Now()

	url, _ := payload["url"].(string)
	if url == "" {
		return engine.CheckResult{Status: engine.StatusError, FailureReason: "http: payload missing required \"url\" field", StartedAt: startedAt, EndedAt: time.Now()}
	}
	method, _ := payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	if err := h.Limiter.Wait(ctx); err != nil {
		return h.cancelledOrError(err, startedAt)
	}

	var bodyReader io.Reader
	if bodyStr, ok := payload["body"].(string); ok && bodyStr != "" {
		bodyReader = strings.NewReader(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return engine.CheckResult{Status: engine.StatusError, FailureReason: err.Error(), StartedAt: startedAt, EndedAt: time.Now()}
	}
	if headers, ok := payload["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		if cancel.Err() != nil {
			return h.cancelledOrError(cancel.Err(), startedAt)
		}
		perr := &checkflowerrors.ProviderError{Provider: "http", Message: err.Error(), Cause: err}
		return engine.CheckResult{Status: engine.StatusError, FailureReason: perr.Error(), StartedAt: startedAt, EndedAt: time.Now()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return engine.CheckResult{Status: engine.StatusError, FailureReason: err.Error(), StartedAt: startedAt, EndedAt: time.Now()}
	}

	output, extractErr := h.extract(raw, payload)
	endedAt := time.Now()

	result := engine.CheckResult{
		Status:    engine.StatusOK,
		Output:    output,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}
	if resp.StatusCode >= 400 {
		result.Status = engine.StatusFailed
		result.FailureReason = fmt.Sprintf("http %s %s: status %d", method, url, resp.StatusCode)
	} else if extractErr != nil {
		result.Status = engine.StatusFailed
		result.FailureReason = extractErr.Error()
	}
	return result
}

func (h *HTTP) cancelledOrError(err error, startedAt time.Time) engine.CheckResult {
	return engine.CheckResult{Status: engine.StatusError, FailureReason: err.Error(), StartedAt: startedAt, EndedAt: time.Now()}
}

// extract decodes raw as JSON and, if payload carries an "extract" jq
// query, runs it and returns the first emitted value; otherwise the
// decoded JSON (or the raw string, if it isn't valid JSON) is returned
// as-is.
func (h *HTTP) extract(raw []byte, payload map[string]any) (any, error) {
	query, _ := payload["extract"].(string)

	var decoded any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &decoded); err != nil {
		if query != "" {
			return nil, fmt.Errorf("http: extract requires a JSON response: %w", err)
		}
		return string(raw), nil
	}
	if query == "" {
		return decoded, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("http: parsing extract query: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("http: compiling extract query: %w", err)
	}
	iter := code.Run(decoded)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("http: extract query failed: %w", err)
	}
	return v, nil
}
