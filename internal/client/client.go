// Package client is a typed HTTP client for the parceltrack REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/tracking"
)

// APIError is a non-2xx response.
type APIError struct {
	Status    int
	Message   string
	RequestID string
	Fields    []tracking.FieldError
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Path+": "+f.Msg)
		}
		msg = strings.Join(parts, "; ")
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api: %d %s", e.Status, msg)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to one API base URL. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRateLimit paces outgoing requests to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for a session and keeps its token.
func (c *Client) Login(ctx context.Context, identifier, password string) (auth.Session, error) {
	body := map[string]string{"password": password}
	if strings.Contains(identifier, "@") {
		body["email"] = identifier
	} else {
		body["username"] = identifier
	}
	return c.session(ctx, http.MethodPost, "/auth/login", body)
}

// LoginMock signs in through the mock provider as name.
func (c *Client) LoginMock(ctx context.Context, name string) (auth.Session, error) {
	return c.session(ctx, http.MethodPost, "/auth/login", map[string]string{
		"provider": "mock",
		"code":     "demo",
		"name":     name,
	})
}

// SignupInput is a registration request. Avatar is optional.
type SignupInput struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Password  string

	Avatar     io.Reader
	AvatarName string
}

// Signup registers a user and keeps the returned token. With an avatar the
// request is sent as multipart/form-data.
func (c *Client) Signup(ctx context.Context, in SignupInput) (auth.Session, error) {
	if in.Avatar == nil {
		return c.session(ctx, http.MethodPost, "/auth/signup", map[string]string{
			"firstName": in.FirstName,
			"lastName":  in.LastName,
			"username":  in.Username,
			"email":     in.Email,
			"password":  in.Password,
		})
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, kv := range [][2]string{
		{"firstName", in.FirstName},
		{"lastName", in.LastName},
		{"username", in.Username},
		{"email", in.Email},
		{"password", in.Password},
	} {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return auth.Session{}, err
		}
	}
	name := in.AvatarName
	if name == "" {
		name = "avatar"
	}
	part, err := mw.CreateFormFile("avatar", name)
	if err != nil {
		return auth.Session{}, err
	}
	if _, err := io.Copy(part, in.Avatar); err != nil {
		return auth.Session{}, fmt.Errorf("read avatar: %w", err)
	}
	if err := mw.Close(); err != nil {
		return auth.Session{}, err
	}

	var sess auth.Session
	if err := c.send(ctx, http.MethodPost, "/auth/signup", mw.FormDataContentType(), &buf, &sess); err != nil {
		return auth.Session{}, err
	}
	c.SetToken(sess.Token)
	return sess, nil
}

// AdminToken trades the admin secret for an admin session and keeps its token.
func (c *Client) AdminToken(ctx context.Context, secret string) (auth.Session, error) {
	return c.session(ctx, http.MethodPost, "/auth/admin-token", map[string]string{"adminSecret": secret})
}

// Me returns the user behind the current token.
func (c *Client) Me(ctx context.Context) (auth.User, error) {
	var out struct {
		User auth.User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out)
	return out.User, err
}

// UserRemoval reports what deleting a user removed.
type UserRemoval struct {
	OK bool `json:"ok"`
	auth.Removal
}

func (c *Client) DeleteUser(ctx context.Context, id string) (UserRemoval, error) {
	var out UserRemoval
	err := c.do(ctx, http.MethodDelete, "/auth/users/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) GetPackage(ctx context.Context, trackingNumber string) (tracking.Package, error) {
	var p tracking.Package
	err := c.do(ctx, http.MethodGet, packagePath(trackingNumber), nil, &p)
	return p, err
}

// CreatePackage is the create payload. Nil fields take server defaults.
type CreatePackage struct {
	TrackingNumber  string   `json:"trackingNumber"`
	Carrier         *string  `json:"carrier,omitempty"`
	Status          *string  `json:"status,omitempty"`
	LastLocationLat *float64 `json:"lastLocationLat,omitempty"`
	LastLocationLng *float64 `json:"lastLocationLng,omitempty"`
	OwnerUserID     *string  `json:"ownerUserId,omitempty"`
}

func (c *Client) CreatePackage(ctx context.Context, in CreatePackage) (tracking.Package, error) {
	var p tracking.Package
	err := c.do(ctx, http.MethodPost, "/api/track", in, &p)
	return p, err
}

// UpdatePackage lists the fields to change; nil fields are left alone.
type UpdatePackage struct {
	Carrier         *string  `json:"carrier,omitempty"`
	Status          *string  `json:"status,omitempty"`
	LastLocationLat *float64 `json:"lastLocationLat,omitempty"`
	LastLocationLng *float64 `json:"lastLocationLng,omitempty"`
}

func (c *Client) UpdatePackage(ctx context.Context, trackingNumber string, in UpdatePackage) (tracking.Package, error) {
	var p tracking.Package
	err := c.do(ctx, http.MethodPut, packagePath(trackingNumber), in, &p)
	return p, err
}

// SetOwner assigns the package to owner, or releases it when owner is nil.
func (c *Client) SetOwner(ctx context.Context, trackingNumber string, owner *string) (tracking.Package, error) {
	var p tracking.Package
	body := struct {
		OwnerUserID *string `json:"ownerUserId"`
	}{owner}
	err := c.do(ctx, http.MethodPatch, packagePath(trackingNumber)+"/owner", body, &p)
	return p, err
}

func (c *Client) DeletePackage(ctx context.Context, trackingNumber string) error {
	return c.do(ctx, http.MethodDelete, packagePath(trackingNumber), nil, nil)
}

// MyPackages lists packages owned by the caller.
func (c *Client) MyPackages(ctx context.Context) ([]tracking.Package, error) {
	var out []tracking.Package
	err := c.do(ctx, http.MethodGet, "/api/my-packages", nil, &out)
	return out, err
}

// CreateDemoPackages calls the development seeding route for username.
func (c *Client) CreateDemoPackages(ctx context.Context, username string) ([]string, error) {
	var out struct {
		Created []string `json:"created"`
	}
	err := c.do(ctx, http.MethodPost, "/api/dev/create-demo-packages?username="+url.QueryEscape(username), nil, &out)
	return out.Created, err
}

func packagePath(trackingNumber string) string {
	return "/api/track/" + url.PathEscape(trackingNumber)
}

func (c *Client) session(ctx context.Context, method, path string, body any) (auth.Session, error) {
	var sess auth.Session
	if err := c.do(ctx, method, path, body, &sess); err != nil {
		return auth.Session{}, err
	}
	c.SetToken(sess.Token)
	return sess, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var (
		r           io.Reader
		contentType string
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, contentType, r, out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, data []byte) error {
	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
	var payload struct {
		Error     string                `json:"error"`
		Errors    []tracking.FieldError `json:"errors"`
		RequestID string                `json:"request_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = payload.Error
	apiErr.Fields = payload.Errors
	if payload.RequestID != "" {
		apiErr.RequestID = payload.RequestID
	}
	return apiErr
}
