// Package storeclient talks to the inquiry store HTTP API.
package storeclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	pathHealth          = "/healthz"
	pathSessions        = "/api/sessions"
	pathInquiries       = "/api/inquiries"
	pathAdminElevate    = "/api/admin/elevate"
	pathAdminStatus     = "/api/admin/status"
	pathAdminInquiries  = "/api/admin/inquiries"
	pathAdminEvents     = "/api/admin/inquiries/events"
	headerAccept        = "Accept"
	contentTypeStream   = "text/event-stream"
	eventFieldName      = "event:"
	eventFieldData      = "data:"
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	bearerPrefix        = "Bearer "
	contentTypeJSON     = "application/json"
	maxErrorBodyBytes   = 4096
	defaultHTTPTimeout  = 15 * time.Second

	// ErrorCodeAlreadyElevated is returned by the elevate endpoint when the session holds a grant.
	ErrorCodeAlreadyElevated = "already_elevated"
	// ErrorCodeNotAdmin is returned when a token's session holds no grant.
	ErrorCodeNotAdmin = "not_admin"
	// ErrorCodeInvalidSecret is returned when the elevation secret does not match.
	ErrorCodeInvalidSecret = "invalid_secret"
	// ErrorCodeUnauthorized is returned for missing or invalid bearer tokens.
	ErrorCodeUnauthorized = "unauthorized"

	// EventInquiryCreated names the stream event sent for every stored inquiry.
	EventInquiryCreated = "inquiry_created"
)

var ErrMissingBaseURL = errors.New("storeclient: missing base url")

// StatusError is a non-2xx response from the store.
type StatusError struct {
	StatusCode int
	Code       string
	Operation  string
}

func (statusError *StatusError) Error() string {
	if statusError.Code == "" {
		return fmt.Sprintf("storeclient: %s: status %d", statusError.Operation, statusError.StatusCode)
	}
	return fmt.Sprintf("storeclient: %s: status %d: %s", statusError.Operation, statusError.StatusCode, statusError.Code)
}

// Inquiry mirrors the store's inquiry representation.
type Inquiry struct {
	ID              uint64    `json:"id"`
	Kind            string    `json:"kind"`
	Name            string    `json:"name"`
	PhoneNumber     string    `json:"phone_number"`
	Email           string    `json:"email,omitempty"`
	Message         string    `json:"message"`
	ServiceCategory string    `json:"service_category,omitempty"`
	Read            bool      `json:"read"`
	Internal        bool      `json:"internal"`
	CreatedAt       time.Time `json:"-"`
	Placeholder     bool      `json:"-"`
}

type inquiryWire struct {
	Inquiry
	CreatedAtUnix int64 `json:"created_at"`
}

// Session is an unprivileged backend session bound to a principal.
type Session struct {
	Principal string `json:"principal"`
	Token     string `json:"token"`
}

// InquiryEvent is one inquiry_created notification from the admin stream.
// Missed counts notifications the store dropped for this stream since the
// previous delivery; the receiver should refetch when it is non-zero.
type InquiryEvent struct {
	InquiryID   uint64    `json:"inquiry_id"`
	Kind        string    `json:"kind"`
	Internal    bool      `json:"internal"`
	CreatedAt   time.Time `json:"-"`
	UnreadCount int64     `json:"unread_count"`
	Missed      int       `json:"missed"`
}

type inquiryEventWire struct {
	InquiryEvent
	CreatedAtUnix int64 `json:"created_at"`
}

// SubmitRequest carries a public inquiry submission.
type SubmitRequest struct {
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phone_number"`
	Email           string `json:"email,omitempty"`
	Message         string `json:"message"`
	ServiceCategory string `json:"service_category,omitempty"`
}

// Client calls the inquiry store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger used for debug traces.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// New builds a Client for the store at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	trimmedBaseURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if _, parseErr := url.ParseRequestURI(trimmedBaseURL); parseErr != nil {
		return nil, fmt.Errorf("storeclient: parse base url: %w", parseErr)
	}
	client := &Client{
		baseURL:    trimmedBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Health checks the store's health endpoint.
func (client *Client) Health(ctx context.Context) error {
	return client.do(ctx, "health", http.MethodGet, pathHealth, "", nil, nil)
}

// Connect opens a backend session for the principal. An empty principal asks
// the store for an anonymous one.
func (client *Client) Connect(ctx context.Context, principal string) (Session, error) {
	var session Session
	requestBody := map[string]string{"principal": principal}
	if err := client.do(ctx, "connect", http.MethodPost, pathSessions, "", requestBody, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Elevate grants admin rights to the session.
func (client *Client) Elevate(ctx context.Context, token string, secret string) error {
	requestBody := map[string]string{"secret": secret}
	return client.do(ctx, "elevate", http.MethodPost, pathAdminElevate, token, requestBody, nil)
}

// IsAdmin asks whether the session holds admin rights.
func (client *Client) IsAdmin(ctx context.Context, token string) (bool, error) {
	var response struct {
		IsAdmin bool `json:"is_admin"`
	}
	if err := client.do(ctx, "admin_status", http.MethodGet, pathAdminStatus, token, nil, &response); err != nil {
		return false, err
	}
	return response.IsAdmin, nil
}

// ListInquiries returns every stored inquiry.
func (client *Client) ListInquiries(ctx context.Context, token string) ([]Inquiry, error) {
	var response struct {
		Inquiries []inquiryWire `json:"inquiries"`
	}
	if err := client.do(ctx, "list", http.MethodGet, pathAdminInquiries, token, nil, &response); err != nil {
		return nil, err
	}
	inquiries := make([]Inquiry, 0, len(response.Inquiries))
	for _, wire := range response.Inquiries {
		inquiry := wire.Inquiry
		inquiry.CreatedAt = time.Unix(wire.CreatedAtUnix, 0).UTC()
		inquiries = append(inquiries, inquiry)
	}
	return inquiries, nil
}

// SetInquiryRead updates an inquiry's read flag.
func (client *Client) SetInquiryRead(ctx context.Context, token string, identifier uint64, read bool) error {
	requestBody := map[string]bool{"read": read}
	return client.do(ctx, "set_read", http.MethodPatch, inquiryPath(identifier), token, requestBody, nil)
}

// DeleteInquiry removes an inquiry.
func (client *Client) DeleteInquiry(ctx context.Context, token string, identifier uint64) error {
	return client.do(ctx, "delete", http.MethodDelete, inquiryPath(identifier), token, nil, nil)
}

// SubmitInquiry stores a public inquiry and returns its identifier.
func (client *Client) SubmitInquiry(ctx context.Context, request SubmitRequest) (uint64, error) {
	var response struct {
		ID uint64 `json:"id"`
	}
	if err := client.do(ctx, "submit", http.MethodPost, pathInquiries, "", request, &response); err != nil {
		return 0, err
	}
	return response.ID, nil
}

// SubmitInternalInquiry stores an inquiry taken by the operator. It needs an admin token.
func (client *Client) SubmitInternalInquiry(ctx context.Context, token string, request SubmitRequest) (uint64, error) {
	var response struct {
		ID uint64 `json:"id"`
	}
	if err := client.do(ctx, "submit_internal", http.MethodPost, pathAdminInquiries, token, request, &response); err != nil {
		return 0, err
	}
	return response.ID, nil
}

// GetInquiry loads one inquiry.
func (client *Client) GetInquiry(ctx context.Context, token string, identifier uint64) (Inquiry, error) {
	var wire inquiryWire
	if err := client.do(ctx, "get", http.MethodGet, inquiryPath(identifier), token, nil, &wire); err != nil {
		return Inquiry{}, err
	}
	inquiry := wire.Inquiry
	inquiry.CreatedAt = time.Unix(wire.CreatedAtUnix, 0).UTC()
	return inquiry, nil
}

// StreamInquiryEvents follows the admin event stream and calls handle for each
// inquiry_created event. It returns nil when the store ends the stream and the
// context error once ctx is canceled.
func (client *Client) StreamInquiryEvents(ctx context.Context, token string, handle func(InquiryEvent)) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+pathAdminEvents, nil)
	if requestErr != nil {
		return fmt.Errorf("storeclient: events: build request: %w", requestErr)
	}
	request.Header.Set(headerAccept, contentTypeStream)
	if token != "" {
		request.Header.Set(headerAuthorization, bearerPrefix+token)
	}

	// The stream stays open for as long as the caller listens.
	streamingClient := *client.httpClient
	streamingClient.Timeout = 0
	response, sendErr := streamingClient.Do(request)
	if sendErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("storeclient: events: %w", sendErr)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return readStatusError(response, "events")
	}
	client.logger.Debug("store_stream_open", zap.String("operation", "events"))

	scanner := bufio.NewScanner(response.Body)
	eventName := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName == EventInquiryCreated && data.Len() > 0 {
				var wire inquiryEventWire
				if decodeErr := json.Unmarshal([]byte(data.String()), &wire); decodeErr != nil {
					client.logger.Debug("store_stream_decode_failed", zap.Error(decodeErr))
				} else {
					event := wire.InquiryEvent
					event.CreatedAt = time.Unix(wire.CreatedAtUnix, 0).UTC()
					handle(event)
				}
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, eventFieldName):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, eventFieldName))
		case strings.HasPrefix(line, eventFieldData):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, eventFieldData), " "))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return fmt.Errorf("storeclient: events: read stream: %w", scanErr)
	}
	return nil
}

func inquiryPath(identifier uint64) string {
	return pathAdminInquiries + "/" + strconv.FormatUint(identifier, 10)
}

func (client *Client) do(ctx context.Context, operation string, method string, path string, token string, requestBody any, responseBody any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, marshalErr := json.Marshal(requestBody)
		if marshalErr != nil {
			return fmt.Errorf("storeclient: %s: encode request: %w", operation, marshalErr)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, requestErr := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if requestErr != nil {
		return fmt.Errorf("storeclient: %s: build request: %w", operation, requestErr)
	}
	if requestBody != nil {
		request.Header.Set(headerContentType, contentTypeJSON)
	}
	if token != "" {
		request.Header.Set(headerAuthorization, bearerPrefix+token)
	}

	startedAt := time.Now()
	response, sendErr := client.httpClient.Do(request)
	if sendErr != nil {
		return fmt.Errorf("storeclient: %s: %w", operation, sendErr)
	}
	defer response.Body.Close()

	client.logger.Debug("store_call",
		zap.String("operation", operation),
		zap.Int("status", response.StatusCode),
		zap.Duration("dur", time.Since(startedAt)),
	)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return readStatusError(response, operation)
	}

	if responseBody == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(responseBody); decodeErr != nil {
		return fmt.Errorf("storeclient: %s: decode response: %w", operation, decodeErr)
	}
	return nil
}

func readStatusError(response *http.Response, operation string) error {
	var errorBody struct {
		Error string `json:"error"`
	}
	limited, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	_ = json.Unmarshal(limited, &errorBody)
	return &StatusError{StatusCode: response.StatusCode, Code: errorBody.Error, Operation: operation}
}
