// Package backend implements the learning platform API client.
// It covers resource metadata, monitoring sessions, frame ingestion,
// combined grades and the recommendation generator.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/circuitbreaker"
	"github.com/learnwatch/attention-monitor/pkg/logger"
	"github.com/learnwatch/attention-monitor/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the platform root, e.g. https://learn.example.edu
	BaseURL string

	// Token is the student's bearer token.
	Token string

	// StudentID is the signed-in student. Session lookups are filtered by it.
	StudentID shared.StudentID

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration

	// Retry budget for control calls. Frames and finalize are never retried.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Circuit breaker settings
	BreakerThreshold int
	BreakerCooldown  time.Duration
	BreakerProbes    int

	// FrameLimiter bounds frame uploads. Frames over budget are dropped.
	FrameLimiter RateLimiterConfig

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, token string, student shared.StudentID) ClientConfig {
	return ClientConfig{
		BaseURL:          baseURL,
		Token:            token,
		StudentID:        student,
		Timeout:          15 * time.Second,
		MaxAttempts:      3,
		RetryBaseDelay:   300 * time.Millisecond,
		RetryMaxDelay:    5 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		BreakerProbes:    1,
		FrameLimiter:     DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the learning platform. It is safe for concurrent use.
type Client struct {
	config  ClientConfig
	http    *resty.Client
	logger  *slog.Logger
	retrier *retry.Retrier
	frames  *RateLimiter
	mapper  *Mapper

	// breaker guards control calls: resources, sessions, finalize and grades.
	// Frame uploads go through frameBreaker so a failing analyzer never
	// blocks finalization.
	breaker      *circuitbreaker.CircuitBreaker
	frameBreaker *circuitbreaker.CircuitBreaker
}

// Compile-time checks.
var (
	_ monitoring.ResourceGateway = (*Client)(nil)
	_ monitoring.SessionGateway  = (*Client)(nil)
	_ monitoring.FrameSink       = (*Client)(nil)
	_ monitoring.ScoreGateway    = (*Client)(nil)
)

// NewClient creates a new backend client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	log := config.Logger.With(logger.Component("backend"))

	h := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if config.Token != "" {
		h.SetAuthToken(config.Token)
	}
	if config.Transport != nil {
		h.SetTransport(config.Transport)
	}

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	newBreaker := func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.BackendBreaker(name, config.BreakerThreshold, config.BreakerCooldown, config.BreakerProbes,
			circuitbreaker.WithIsFailure(shared.IsExternalService),
			circuitbreaker.WithOnStateChange(onStateChange),
		)
	}

	retrier := retry.BackendRetrier(config.MaxAttempts, config.RetryBaseDelay, config.RetryMaxDelay,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Debug("retrying backend call", "attempt", attempt, logger.Err(err), logger.Latency(delay))
		}),
	)

	return &Client{
		config:       config,
		http:         h,
		logger:       log,
		retrier:      retrier,
		frames:       NewRateLimiter(config.FrameLimiter),
		mapper:       NewMapper(),
		breaker:      newBreaker("backend-api"),
		frameBreaker: newBreaker("backend-frames"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOURCE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetResource loads resource metadata.
func (c *Client) GetResource(ctx context.Context, id shared.ResourceID) (*monitoring.Resource, error) {
	var dto ResourceDTO
	err := c.call(ctx, request{
		op:     "GetResource",
		method: http.MethodGet,
		path:   "/api/recursos/" + url.PathEscape(id.String()) + "/",
		retry:  true,
	}, &dto)
	if err != nil {
		return nil, err
	}
	return c.mapper.ResourceFromDTO(&dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FindSession returns the caller's existing session on a resource, or an empty id.
// Rows for other students or other resources are ignored even if the server
// does not filter them.
func (c *Client) FindSession(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error) {
	var list SessionListDTO
	err := c.call(ctx, request{
		op:     "FindSession",
		method: http.MethodGet,
		path:   "/api/sesiones/",
		query:  map[string]string{"recurso": resource.String()},
		retry:  true,
	}, &list)
	if err != nil {
		if shared.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}

	for _, s := range list.Results {
		if s.ID == "" {
			continue
		}
		if s.Recurso != "" && s.Recurso != resource.String() {
			continue
		}
		if s.Estudiante != "" && c.config.StudentID.IsValid() && s.Estudiante != c.config.StudentID.String() {
			continue
		}
		return shared.SessionID(s.ID), nil
	}
	return "", nil
}

// CreateSession returns the caller's session on a resource, creating it if needed.
// The server answers 201 for a new session and 200 for an existing one.
func (c *Client) CreateSession(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error) {
	var dto SessionDTO
	err := c.call(ctx, request{
		op:     "CreateSession",
		method: http.MethodPost,
		path:   "/api/sesiones/crear-para-mi/",
		body:   CreateSessionRequest{Recurso: resource.String()},
		retry:  true,
	}, &dto)
	if err != nil {
		return "", err
	}
	return shared.SessionID(dto.ID), nil
}

// StartMonitoring declares the monitoring window on the session.
func (c *Client) StartMonitoring(ctx context.Context, session shared.SessionID, duration time.Duration) error {
	var dto MonitorResponseDTO
	return c.call(ctx, request{
		op:     "StartMonitoring",
		method: http.MethodPost,
		path:   sessionPath(session) + "monitoreo-atencion/",
		body:   MonitorRequest{Duracion: int(duration / time.Second)},
		retry:  true,
	}, &dto)
}

// FinishMonitoring stamps the end of the window and the time actually monitored.
// It is sent once; the caller decides what a failure means.
func (c *Client) FinishMonitoring(ctx context.Context, session shared.SessionID, elapsed time.Duration) error {
	var dto SessionDTO
	return c.call(ctx, request{
		op:     "FinishMonitoring",
		method: http.MethodPatch,
		path:   sessionPath(session),
		body:   FinishRequest{Fin: time.Now().UTC(), Duracion: DurationDTO{elapsed}},
	}, &dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// FRAME OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// SendFrame posts one data URL. Frames over the upload budget are dropped
// with shared.ErrRateLimited before touching the network.
func (c *Client) SendFrame(ctx context.Context, session shared.SessionID, dataURL string) (*monitoring.Readout, error) {
	if !c.frames.TryAllow() {
		return nil, shared.NewDomainError("backend", "SendFrame", shared.ErrRateLimited, "frame budget exhausted")
	}

	var dto FrameResponseDTO
	err := c.call(ctx, request{
		op:     "SendFrame",
		method: http.MethodPost,
		path:   sessionPath(session) + "monitoreo-atencion/",
		body:   FrameRequest{Frame: dataURL},
		frame:  true,
	}, &dto)
	if err != nil {
		return nil, err
	}
	return c.mapper.ReadoutFromDTO(&dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CombinedScore fetches the grades for (student, resource) and combines them locally.
func (c *Client) CombinedScore(ctx context.Context, student shared.StudentID, resource shared.ResourceID) (monitoring.CombinedScore, error) {
	var dto CombinedScoreDTO
	err := c.call(ctx, request{
		op:     "CombinedScore",
		method: http.MethodGet,
		path:   "/api/nota-combinada/",
		query: map[string]string{
			"estudiante": student.String(),
			"recurso":    resource.String(),
		},
		retry: true,
	}, &dto)
	if err != nil {
		return monitoring.CombinedScore{}, err
	}
	return c.mapper.CombinedFromDTO(&dto)
}

// Recommend asks the generator for advice on a finished lesson.
func (c *Client) Recommend(ctx context.Context, req monitoring.RecommendationRequest) (*monitoring.Recommendation, error) {
	body := c.mapper.RecommendationToDTO(req)
	if err := checkPayload("Recommend", &body); err != nil {
		return nil, err
	}

	var dto RecommendationDTO
	err := c.call(ctx, request{
		op:     "Recommend",
		method: http.MethodPost,
		path:   "/api/recomendaciones/generar/",
		body:   body,
	}, &dto)
	if err != nil {
		return nil, err
	}
	return c.mapper.RecommendationFromDTO(&dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type request struct {
	op     string
	method string
	path   string
	query  map[string]string
	body   any

	// retry allows the retrier to repeat the call on transient failures.
	retry bool
	// frame routes the call through the frame breaker and logs failures at
	// debug level only; used for the per-second upload.
	frame bool
}

// call runs one request through its circuit breaker and, when allowed, the retrier.
func (c *Client) call(ctx context.Context, req request, out any) error {
	breaker := c.breaker
	if req.frame {
		breaker = c.frameBreaker
	}
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		if !req.retry {
			return c.send(ctx, req, out)
		}
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.send(ctx, req, out)
		})
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("backend", req.op, shared.ErrServiceUnavailable, "backend temporarily unavailable", err)
	}
	var marked *retry.RetryableError
	if errors.As(err, &marked) && marked == err {
		return marked.Err
	}
	return err
}

// send performs a single HTTP exchange. Transient failures come back marked
// retry.Retryable.
func (c *Client) send(ctx context.Context, req request, out any) error {
	requestID := uuid.NewString()
	r := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if req.body != nil {
		r.SetBody(req.body)
	}
	if len(req.query) > 0 {
		r.SetQueryParams(req.query)
	}

	start := time.Now()
	resp, err := r.Execute(req.method, req.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("backend.%s: %w", req.op, ctxErr)
		}
		kind := shared.ErrServiceUnavailable
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = shared.ErrTimeout
		}
		return retry.Retryable(shared.WrapError("backend", req.op, kind, "backend unreachable", err))
	}

	attrs := []any{
		logger.Operation(req.op),
		logger.RequestID(requestID),
		"status", resp.StatusCode(),
		logger.Latency(time.Since(start)),
	}
	if req.frame || resp.StatusCode() < 400 {
		c.logger.Debug("backend call", attrs...)
	} else {
		c.logger.Warn("backend call failed", attrs...)
	}

	if err := c.statusError(req.op, resp); err != nil {
		return err
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return shared.ErrInvalidPayload.Wrap(fmt.Errorf("%s: %w", req.op, err))
	}
	return checkPayload(req.op, out)
}

// statusError maps an HTTP status to the shared error taxonomy.
func (c *Client) statusError(op string, resp *resty.Response) error {
	status := resp.StatusCode()
	if status < 400 {
		return nil
	}

	var apiErr APIErrorDTO
	_ = json.Unmarshal(resp.Body(), &apiErr)
	msg := apiErr.Message()
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := fmt.Errorf("status %d: %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header().Get("Retry-After"))
		c.frames.RecordRateLimitHit(wait)
		return retry.Retryable(shared.WrapError("backend", op, shared.ErrRateLimited, "rate limited by backend", cause))
	case status >= 500:
		return retry.Retryable(shared.WrapError("backend", op, shared.ErrServiceUnavailable, "backend error", cause))
	case status == http.StatusUnauthorized:
		return shared.WrapError("backend", op, shared.ErrUnauthorized, "token rejected", cause)
	case status == http.StatusForbidden:
		return shared.WrapError("backend", op, shared.ErrForbidden, "access denied", cause)
	case status == http.StatusNotFound:
		return shared.WrapError("backend", op, shared.ErrNotFound, "not found", cause)
	case status == http.StatusUnprocessableEntity && op == "SendFrame":
		return shared.ErrNoFaceDetected.Wrap(cause)
	default:
		return shared.WrapError("backend", op, shared.ErrInvalidInput, "request rejected", cause)
	}
}

func sessionPath(id shared.SessionID) string {
	return "/api/sesiones/" + url.PathEscape(id.String()) + "/"
}

// parseRetryAfter reads delta-seconds or an HTTP date. Unknown values yield zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a snapshot of the client's protective state.
type ClientStatus struct {
	Breaker         string
	FrameBreaker    string
	FramesAvailable float64
}

// Status returns the breaker states and the remaining frame budget.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		Breaker:         c.breaker.State().String(),
		FrameBreaker:    c.frameBreaker.State().String(),
		FramesAvailable: c.frames.Available(),
	}
}

// Reset closes both breakers.
func (c *Client) Reset() {
	c.breaker.Reset()
	c.frameBreaker.Reset()
}
