// Package gateway wraps every call to the tutoring backend. It attaches the
// bearer token and classifies failures as unauthenticated, unreachable or
// rejected. It never clears credentials and never navigates; call sites decide.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/tutorline/internal/credential"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// RequestIDHeader carries a per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Request describes one backend call.
type Request struct {
	Method   string
	Endpoint string // path relative to the base URL, e.g. /api/chat/send
	Body     any    // JSON-encoded when non-nil
	Fallback string // message used when a rejection carries no server text
}

// Opts holds parameters for creating a Gateway.
type Opts struct {
	BaseURL   string
	Store     credential.Store
	Transport http.RoundTripper // defaults to http.DefaultTransport
	Timeout   time.Duration     // zero means no client timeout
	Logger    *zap.Logger
}

// Gateway executes authenticated and public requests against one backend.
type Gateway struct {
	baseURL string
	store   credential.Store
	authed  *http.Client
	public  *http.Client
	log     *zap.Logger
}

// New creates a Gateway.
func New(opts Opts) (*Gateway, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway: base url is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("gateway: credential store is required")
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		store:   opts.Store,
		authed: &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: credential.TokenSource(opts.Store),
				Base:   base,
			},
		},
		public: &http.Client{Timeout: opts.Timeout, Transport: base},
		log:    log.Named("gateway"),
	}, nil
}

// Store returns the credential store the gateway reads from.
func (g *Gateway) Store() credential.Store {
	return g.store
}

// Call performs an authenticated JSON request and returns the decoded payload
// verbatim. Without a stored credential it fails with ErrUnauthenticated
// before touching the network.
func (g *Gateway) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := g.requireCredential(); err != nil {
		return nil, err
	}
	httpReq, err := g.newJSONRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return g.do(g.authed, httpReq, req.Endpoint, req.Fallback)
}

// CallPublic performs an unauthenticated JSON request (login, signup).
func (g *Gateway) CallPublic(ctx context.Context, req Request) (json.RawMessage, error) {
	httpReq, err := g.newJSONRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return g.do(g.public, httpReq, req.Endpoint, req.Fallback)
}

// Upload posts a multipart form with a single "file" part.
func (g *Gateway) Upload(ctx context.Context, endpoint, filename string, content io.Reader, fallback string) (json.RawMessage, error) {
	if err := g.requireCredential(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("gateway: build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("gateway: read upload %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("gateway: build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request %s: %w", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return g.do(g.authed, httpReq, endpoint, fallback)
}

func (g *Gateway) requireCredential() error {
	if _, err := g.store.Get(); err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("gateway: read credential: %w", err)
	}
	return nil
}

func (g *Gateway) newJSONRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode %s body: %w", req.Endpoint, err)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, g.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request %s: %w", req.Endpoint, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (g *Gateway) do(client *http.Client, httpReq *http.Request, endpoint, fallback string) (json.RawMessage, error) {
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)
	httpReq.Header.Set("Accept", "application/json")

	log := g.log.With(
		zap.String("method", httpReq.Method),
		zap.String("endpoint", endpoint),
		zap.String("request_id", requestID),
	)
	start := time.Now()

	resp, err := client.Do(httpReq)
	if err != nil {
		// The store may have been cleared between the check and dispatch.
		if errors.Is(err, credential.ErrNoCredential) {
			return nil, ErrUnauthenticated
		}
		log.Warn("request failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		return nil, &UnreachableError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Warn("read response failed", zap.Error(err))
		return nil, &UnreachableError{Endpoint: endpoint, Err: err}
	}
	log = log.With(zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))

	msg, flagged := errorField(data)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || flagged {
		if msg == "" {
			msg = fallback
		}
		if msg == "" {
			msg = "request failed"
		}
		log.Warn("request rejected", zap.String("message", msg))
		return nil, &RejectedError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		log.Debug("request complete (empty body)")
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		log.Warn("response is not json")
		if fallback == "" {
			fallback = "request failed"
		}
		return nil, &RejectedError{Endpoint: endpoint, Status: resp.StatusCode, Message: fallback}
	}
	log.Debug("request complete")
	return json.RawMessage(data), nil
}

// errorField inspects a JSON object payload for an application-level error.
// It returns the server text (from "error", else "detail") and whether the
// payload explicitly flags an error. "detail" alone does not flag a success
// response as failed.
func errorField(data []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false
	}
	if raw, ok := obj["error"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, s != ""
		}
		// Non-string error values still flag the payload unless null.
		return "", string(raw) != "null"
	}
	if raw, ok := obj["detail"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, false
		}
	}
	return "", false
}
