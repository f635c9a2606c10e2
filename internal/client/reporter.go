// Package client talks to the tracking server.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	middlewareinternal "github.com/Schera-ole/trainkit/internal/middleware"
	models "github.com/Schera-ole/trainkit/internal/model"
)

var defaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// StatusError is returned when the server answers with a non 2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned error status %d: %s", e.Code, e.Body)
}

// Is maps response codes onto the shared sentinel errors. A 404 means an
// unknown metric when the body ends with that sentinel and an unknown run
// otherwise.
func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusConflict:
		return target == internalerrors.ErrRunExists
	case http.StatusBadRequest:
		return target == internalerrors.ErrInvalidArgument
	case http.StatusNotFound:
		if strings.HasSuffix(e.Body, internalerrors.ErrKeyNotFound.Error()) {
			return target == internalerrors.ErrKeyNotFound
		}
		return target == internalerrors.ErrRunNotFound
	}
	return false
}

// Reporter sends requests to the tracking server. Bodies are JSON compressed
// with gzip and signed with the HashSHA256 header when a key is set.
type Reporter struct {
	client  *http.Client
	baseURL string
	key     string
	delays  []time.Duration
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithRetryDelays sets the pauses between attempts. The number of delays is
// the number of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(r *Reporter) {
		r.delays = delays
	}
}

// WithRateLimit caps outgoing requests at perSecond with the given burst.
// A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Reporter) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, burst))
	}
}

// NewReporter creates a reporter for the server at address. A bare host:port
// is treated as plain HTTP.
func NewReporter(address, key string, logger *zap.SugaredLogger, opts ...Option) *Reporter {
	baseURL := strings.TrimSuffix(address, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	r := &Reporter{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		key:     key,
		delays:  defaultDelays,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRun registers a run tracking names.
func (r *Reporter) CreateRun(ctx context.Context, id string, names []string) error {
	return r.do(ctx, http.MethodPost, "/runs", models.RunRequest{ID: id, Metrics: names}, nil)
}

// Send reports a batch of observations for run.
func (r *Reporter) Send(ctx context.Context, run string, observations []models.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	return r.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(run)+"/updates", observations, nil)
}

// Records returns the current records of run.
func (r *Reporter) Records(ctx context.Context, run string) ([]models.MetricRecord, error) {
	var snapshot models.RunSnapshot
	if err := r.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(run), nil, &snapshot); err != nil {
		return nil, err
	}
	return snapshot.Records, nil
}

// Checkpoint asks the server to store the results of epoch.
func (r *Reporter) Checkpoint(ctx context.Context, run string, epoch int, reset bool) ([]models.EpochResult, error) {
	path := "/runs/" + url.PathEscape(run) + "/checkpoint/" + strconv.Itoa(epoch)
	if reset {
		path += "?reset=true"
	}
	var results []models.EpochResult
	if err := r.do(ctx, http.MethodPost, path, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// History returns the stored checkpoints of run.
func (r *Reporter) History(ctx context.Context, run string) ([]models.EpochResult, error) {
	var results []models.EpochResult
	if err := r.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(run)+"/history", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Reporter) encode(payload any) ([]byte, string, error) {
	if payload == nil {
		return nil, "", nil
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("error creating json: %w", err)
	}
	var compressedData bytes.Buffer
	gzipWriter := gzip.NewWriter(&compressedData)
	if _, err := gzipWriter.Write(jsonData); err != nil {
		return nil, "", fmt.Errorf("error compressing data: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing gzip writer: %w", err)
	}
	var hash string
	if r.key != "" {
		hash = hex.EncodeToString(middlewareinternal.CalculateHash(compressedData.Bytes(), r.key))
	}
	return compressedData.Bytes(), hash, nil
}

// do sends the request, retrying network failures and 5xx answers. The
// response body is decoded into out when out is not nil.
func (r *Reporter) do(ctx context.Context, method, path string, payload, out any) error {
	body, hash, err := r.encode(payload)
	if err != nil {
		return err
	}
	target := r.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= len(r.delays); attempt++ {
		if attempt > 0 {
			delay := r.delays[attempt-1]
			r.logger.Infow("retrying request", "url", target, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: last error: %w", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
		}

		var retry bool
		retry, lastErr = r.attempt(ctx, method, target, body, hash, out)
		if lastErr == nil {
			return nil
		}
		if !retry {
			return lastErr
		}
	}
	return fmt.Errorf("failed to send request after %d attempts: %w", len(r.delays)+1, lastErr)
}

func (r *Reporter) attempt(ctx context.Context, method, target string, body []byte, hash string, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return false, fmt.Errorf("error creating request for %s: %w", target, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("Content-Encoding", "gzip")
		if hash != "" {
			request.Header.Set(middlewareinternal.HashHeader, hash)
		}
	}

	response, err := r.client.Do(request)
	if err != nil {
		return isRetryableError(err), fmt.Errorf("error sending request for %s: %w", target, err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return true, fmt.Errorf("error reading response body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := &StatusError{Code: response.StatusCode, Body: strings.TrimSpace(string(respBody))}
		return response.StatusCode >= 500, statusErr
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, fmt.Errorf("error decoding response: %w", err)
		}
	}
	return false, nil
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
