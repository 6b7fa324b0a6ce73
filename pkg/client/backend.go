package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/olmchat/internal/tracing"
	"github.com/harun/olmchat/pkg/session"
)

// Backend is the session persistence boundary the client talks to.
// *session.Store satisfies it for in-process use; HTTPBackend reaches a
// running server over REST.
type Backend interface {
	Create(ctx context.Context, draft session.Draft) (*session.Session, error)
	List(ctx context.Context) ([]session.Session, error)
	Read(ctx context.Context, filePath string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) (session.SaveResult, error)
}

var (
	_ Backend = (*session.Store)(nil)
	_ Backend = (*HTTPBackend)(nil)
)

// HTTPBackend implements Backend against the REST endpoints.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a REST backend rooted at baseURL.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	Session *session.Session `json:"session"`
	Message string           `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (b *HTTPBackend) Create(ctx context.Context, draft session.Draft) (*session.Session, error) {
	var resp createResponse
	if err := b.do(ctx, http.MethodPost, "/newsessions", draft, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, fmt.Errorf("%w: empty create response", session.ErrPersistence)
	}
	return resp.Session, nil
}

func (b *HTTPBackend) List(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	if err := b.do(ctx, http.MethodGet, "/getsessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (b *HTTPBackend) Read(ctx context.Context, filePath string) (*session.Session, error) {
	var s session.Session
	body := map[string]string{"filePath": filePath}
	if err := b.do(ctx, http.MethodPost, "/catsessions", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type saveResponse struct {
	Success bool   `json:"success"`
	Renamed bool   `json:"renamed"`
	NewPath string `json:"newPath"`
}

func (b *HTTPBackend) Save(ctx context.Context, s *session.Session) (session.SaveResult, error) {
	var resp saveResponse
	if err := b.do(ctx, http.MethodPut, "/savesessions", s, &resp); err != nil {
		return session.SaveResult{}, err
	}
	if !resp.Success {
		return session.SaveResult{}, fmt.Errorf("%w: server reported failure", session.ErrPersistence)
	}
	return session.SaveResult{Renamed: resp.Renamed, NewPath: resp.NewPath}, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrValidation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHeader(ctx, req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", session.ErrPersistence, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", session.ErrPersistence, path, err)
	}
	return nil
}

// statusError maps an error response back onto the session sentinels.
func statusError(resp *http.Response) error {
	var e errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
	msg := e.Error
	if msg == "" {
		msg = resp.Status
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", session.ErrValidation, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", session.ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: %s", session.ErrPersistence, msg)
	}
}
