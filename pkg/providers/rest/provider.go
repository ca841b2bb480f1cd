// Package rest provides a provider for a JSON-over-HTTP chat server with a WebSocket
// event stream.
package rest

import (
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
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/models"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultTimeout        = 15 * time.Second
)

// ErrNotConfigured is returned when the provider has no base_url.
var ErrNotConfigured = errors.New("rest: base_url is not configured")

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rest: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// RestProvider talks to a chat server over HTTP and receives events over a WebSocket.
//
// Configuration keys:
//   - base_url: server root, e.g. https://chat.example.com/api (required)
//   - ws_url: event stream url (default: base_url with a ws scheme + /events)
//   - token: bearer token sent on every request
//   - user_id: local user id (default: fetched from GET /me on Connect)
//   - reconnect_delay: fixed delay between stream reconnects (default 3s)
//   - timeout: per-request timeout (default 15s)
type RestProvider struct {
	config         core.ProviderConfig
	baseURL        string
	wsURL          string
	token          string
	userID         string
	reconnectDelay time.Duration
	client         *http.Client
	dialer         *websocket.Dialer
	logger         *logging.Logger

	mu        sync.RWMutex
	eventChan chan core.ProviderEvent
	stopChan  chan struct{}
	conn      *websocket.Conn
	running   bool
	wg        sync.WaitGroup
}

// Ensure interface compliance
var _ core.Provider = (*RestProvider)(nil)

// NewRestProvider creates a new instance of the RestProvider.
func NewRestProvider() *RestProvider {
	return &RestProvider{
		eventChan: make(chan core.ProviderEvent, 100),
		client:    &http.Client{Timeout: defaultTimeout},
		dialer:    websocket.DefaultDialer,
		logger:    logging.Discard(),
	}
}

// Init initializes the provider with its configuration.
func (p *RestProvider) Init(config core.ProviderConfig) error {
	if config == nil {
		config = make(core.ProviderConfig)
	}
	logger, err := logging.GetLogger("rest", config.InstanceID("rest-1"))
	if err != nil {
		fmt.Printf("RestProvider.Init: WARNING - failed to initialize logger: %v\n", err)
	} else {
		p.logger = logger
	}

	base, _ := config.GetString("base_url")
	if base == "" {
		return ErrNotConfigured
	}
	base = strings.TrimRight(base, "/")
	wsURL, _ := config.GetString("ws_url")
	if wsURL == "" {
		wsURL, err = deriveStreamURL(base)
		if err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.baseURL = base
	p.wsURL = wsURL
	p.token, _ = config.GetString("token")
	p.userID, _ = config.GetString("user_id")
	p.reconnectDelay = defaultReconnectDelay
	if d, ok := config.GetDuration("reconnect_delay"); ok && d > 0 {
		p.reconnectDelay = d
	}
	if d, ok := config.GetDuration("timeout"); ok && d > 0 {
		p.client.Timeout = d
	}
	p.logger.Infof("RestProvider: base=%s stream=%s", base, wsURL)
	return nil
}

func deriveStreamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("rest: invalid base_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	return u.String(), nil
}

// GetConfig returns the current configuration of the provider.
func (p *RestProvider) GetConfig() core.ProviderConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// IsAuthenticated reports whether a token is configured.
func (p *RestProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token != ""
}

// CurrentUserID returns the local user id, known after Init or Connect.
func (p *RestProvider) CurrentUserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

// Connect resolves the local user when needed and starts the event stream. The first
// dial must succeed; later drops are retried by the stream loop.
func (p *RestProvider) Connect(ctx context.Context) error {
	if p.CurrentUserID() == "" {
		var me struct {
			ID string `json:"id"`
		}
		if err := p.do(ctx, http.MethodGet, "/me", nil, nil, &me); err != nil {
			return fmt.Errorf("failed to resolve current user: %w", err)
		}
		p.mu.Lock()
		p.userID = me.ID
		p.mu.Unlock()
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	p.running = true
	p.conn = conn
	stop := make(chan struct{})
	p.stopChan = stop
	p.mu.Unlock()

	p.emit(core.ConnectionStatusEvent{State: core.ConnectionConnected}, stop)
	p.wg.Add(1)
	go p.streamLoop(conn, stop)
	return nil
}

func (p *RestProvider) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if p.token != "" {
		header.Set("Authorization", "Bearer "+p.token)
	}
	conn, resp, err := p.dialer.DialContext(ctx, p.wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial event stream: %w", err)
	}
	return conn, nil
}

// streamLoop reads envelopes until Disconnect, redialing after a fixed delay on errors.
func (p *RestProvider) streamLoop(conn *websocket.Conn, stop chan struct{}) {
	defer p.wg.Done()
	for {
		err := p.readEvents(conn, stop)
		_ = conn.Close()
		if stopped(stop) {
			return
		}
		p.logger.Warnf("RestProvider: event stream dropped: %v", err)
		p.emit(core.ConnectionStatusEvent{State: core.ConnectionReconnecting, Err: err}, stop)

		for {
			select {
			case <-stop:
				return
			case <-time.After(p.reconnectDelay):
			}
			next, dialErr := p.dial(context.Background())
			if dialErr == nil {
				p.mu.Lock()
				if stopped(stop) {
					p.mu.Unlock()
					_ = next.Close()
					return
				}
				p.conn = next
				p.mu.Unlock()
				conn = next
				p.emit(core.ConnectionStatusEvent{State: core.ConnectionConnected}, stop)
				break
			}
			p.logger.Debugf("RestProvider: reconnect failed: %v", dialErr)
		}
	}
}

func (p *RestProvider) readEvents(conn *websocket.Conn, stop chan struct{}) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := core.DecodeEnvelope(data)
		if err != nil {
			p.logger.Warnf("RestProvider: dropping event: %v", err)
			continue
		}
		p.emit(ev, stop)
	}
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// emit delivers an event unless the provider is shutting down.
func (p *RestProvider) emit(ev core.ProviderEvent, stop chan struct{}) {
	select {
	case p.eventChan <- ev:
	case <-stop:
	}
}

// Disconnect closes the stream and stops the reconnect loop.
func (p *RestProvider) Disconnect() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = conn.Close()
	}
	p.wg.Wait()
	return err
}

// StreamEvents returns the channel on which real-time events are delivered.
func (p *RestProvider) StreamEvents() (<-chan core.ProviderEvent, error) {
	return p.eventChan, nil
}

// GetConversations returns the conversations of the local user.
func (p *RestProvider) GetConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := p.do(ctx, http.MethodGet, "/conversations", nil, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

type wirePage struct {
	Messages  []json.RawMessage `json:"messages"`
	HasMore   bool              `json:"has_more"`
	HasBefore bool              `json:"has_before"`
	HasAfter  bool              `json:"has_after"`
}

// FetchMessages returns one page of history.
func (p *RestProvider) FetchMessages(ctx context.Context, conversationID string, query core.MessageQuery) (*core.MessagePage, error) {
	q := url.Values{}
	if query.Before != "" {
		q.Set("before", query.Before)
	}
	if query.After != "" {
		q.Set("after", query.After)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	var page wirePage
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := p.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, err
	}
	return &core.MessagePage{Messages: p.decodeMessages(page.Messages), HasMore: page.HasMore}, nil
}

// FetchMessageContext returns a slice of history around a target message.
func (p *RestProvider) FetchMessageContext(ctx context.Context, conversationID string, query core.ContextQuery) (*core.MessageContext, error) {
	q := url.Values{}
	q.Set("before", strconv.Itoa(query.Before))
	q.Set("after", strconv.Itoa(query.After))
	var page wirePage
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(query.TargetID) + "/context"
	if err := p.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, err
	}
	return &core.MessageContext{
		Messages:  p.decodeMessages(page.Messages),
		HasBefore: page.HasBefore,
		HasAfter:  page.HasAfter,
	}, nil
}

// decodeMessages validates each message of a page and drops the malformed ones.
func (p *RestProvider) decodeMessages(raw []json.RawMessage) []models.Message {
	out := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		msg, err := core.DecodeMessage(r)
		if err != nil {
			p.logger.Warnf("RestProvider: dropping message from page: %v", err)
			continue
		}
		out = append(out, msg)
	}
	models.SortMessages(out)
	return out
}

// SendMessage posts a message. The temp id travels both as a field and in the metadata
// bag so servers that only keep metadata still echo it.
func (p *RestProvider) SendMessage(ctx context.Context, conversationID string, req core.SendRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}
	meta := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["temp_id"] = req.TempID
	req.Metadata = meta

	var raw json.RawMessage
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := p.do(ctx, http.MethodPost, path, nil, req, &raw); err != nil {
		return nil, err
	}
	msg, err := core.DecodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid send response: %w", err)
	}
	if msg.TempID == "" {
		msg.TempID = req.TempID
	}
	return &msg, nil
}

// MarkAllRead marks the conversation read on the server.
func (p *RestProvider) MarkAllRead(ctx context.Context, conversationID string) error {
	return p.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil, nil)
}

func (p *RestProvider) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	p.mu.RLock()
	base, token := p.baseURL, p.token
	p.mu.RUnlock()
	if base == "" {
		return ErrNotConfigured
	}

	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	p.logger.Debugf("RestProvider: %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: %s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
