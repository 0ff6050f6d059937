package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor performs rate-limited, retrying HTTP calls with JSON decoding.
// Only transport failures and 5xx responses are retried.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	tag          string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler turns 4xx bodies into typed errors;
// when nil a generic status error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	tag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes req and decodes a successful response into out.
// rateLimitKey scopes the limiter, usually to the signing address.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	payload, err := snapshotBody(req)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
		}

		start := time.Now()
		status, body, err := e.roundTrip(req)
		elapsed := time.Since(start)

		if err != nil {
			lastErr = err
			e.logger.Warn(e.tag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if err := sleep(ctx, Backoff(attempt)); err != nil {
				return err
			}
			continue
		}

		if status >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.Int("status", status),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.tag, status)
			if err := sleep(ctx, Backoff(attempt)); err != nil {
				return err
			}
			continue
		}

		if status >= 400 {
			if e.errorHandler != nil {
				return e.errorHandler(status, body)
			}
			return fmt.Errorf("%s returned %d", e.tag, status)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.tag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.tag, e.retryMax, lastErr)
}

func (e *Executor) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := e.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
