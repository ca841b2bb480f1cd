// Package slack provides the Slack provider implementation.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
)

const defaultPollInterval = 10 * time.Second

// ErrNotInitialized is returned when no token was configured.
var ErrNotInitialized = errors.New("slack client not initialized")

// SlackProvider implements the core.Provider interface for Slack.
//
// Slack has no push channel usable with a user token, so real-time events are produced
// by polling the conversations whose history has been opened.
//
// Configuration keys:
//   - token: xoxp or xoxc token (required)
//   - d_cookie: d cookie sent alongside xoxc tokens
//   - api_url: Web API root (default Slack's)
//   - poll_interval: period of the history poll (default 10s)
type SlackProvider struct {
	config       core.ProviderConfig
	client       *slack.Client
	mu           sync.RWMutex
	logger       *logging.Logger
	userID       string
	pollInterval time.Duration

	userCache   map[string]*slack.User // Cache for user info to avoid repeated API calls
	userCacheMu sync.RWMutex

	// watermarks holds the newest message ts seen per polled conversation.
	watermarks   map[string]string
	watermarksMu sync.Mutex

	eventChan chan core.ProviderEvent // Channel for emitting events
	stopChan  chan struct{}           // Closed to stop the polling goroutine
	running   bool
	wg        sync.WaitGroup
}

// cookieTransport injects the d cookie into requests
type cookieTransport struct {
	Transport http.RoundTripper
	Cookie    string
}

func (t *cookieTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Add("Cookie", t.Cookie)
	return t.Transport.RoundTrip(req)
}

// Ensure interface compliance
var _ core.Provider = (*SlackProvider)(nil)

// NewSlackProvider creates a new instance of the SlackProvider.
func NewSlackProvider() *SlackProvider {
	return &SlackProvider{
		userCache:    make(map[string]*slack.User),
		watermarks:   make(map[string]string),
		eventChan:    make(chan core.ProviderEvent, 100), // Buffered channel to avoid blocking
		pollInterval: defaultPollInterval,
		logger:       logging.Discard(),
	}
}

// Init initializes the provider with its configuration.
func (p *SlackProvider) Init(config core.ProviderConfig) error {
	if config == nil {
		config = make(core.ProviderConfig)
	}
	logger, err := logging.GetLogger("slack", config.InstanceID("slack-1"))
	if err != nil {
		fmt.Printf("SlackProvider.Init: WARNING - failed to initialize logger: %v\n", err)
	} else {
		p.logger = logger
	}
	return p.SetConfig(config)
}

func (p *SlackProvider) log(format string, args ...interface{}) {
	p.logger.Logf(format, args...)
}

// GetConfig returns the current configuration of the provider.
func (p *SlackProvider) GetConfig() core.ProviderConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// SetConfig updates the configuration of the provider and rebuilds the API client.
func (p *SlackProvider) SetConfig(config core.ProviderConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.config = config
	if d, ok := config.GetDuration("poll_interval"); ok && d > 0 {
		p.pollInterval = d
	}

	token, _ := config.GetString("token")
	if token == "" {
		p.log("SlackProvider.SetConfig: WARNING - no token provided\n")
		p.client = nil
		return nil
	}

	opts := []slack.Option{}
	if apiURL, _ := config.GetString("api_url"); apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	if dCookie, _ := config.GetString("d_cookie"); dCookie != "" {
		// The user may paste either "xoxd-..." or "d=xoxd-..."
		cookieValue := strings.TrimPrefix(dCookie, "d=")
		client := &http.Client{
			Transport: &cookieTransport{
				Transport: http.DefaultTransport,
				Cookie:    "d=" + cookieValue,
			},
		}
		opts = append(opts, slack.OptionHTTPClient(client))
	}

	p.client = slack.New(token, opts...)
	p.log("SlackProvider.SetConfig: client created (cookie=%v)\n", config["d_cookie"] != nil)
	return nil
}

func (p *SlackProvider) api() (*slack.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, ErrNotInitialized
	}
	return p.client, nil
}

// IsAuthenticated returns true if the provider has a client.
func (p *SlackProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}

// CurrentUserID returns the Slack user id resolved by Connect.
func (p *SlackProvider) CurrentUserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

// Connect verifies the token and starts the polling goroutine.
func (p *SlackProvider) Connect(ctx context.Context) error {
	client, err := p.api()
	if err != nil {
		return err
	}

	p.log("SlackProvider.Connect: performing auth test\n")
	authInfo, err := client.AuthTestContext(ctx)
	if err != nil {
		p.logger.Errorf("SlackProvider.Connect: auth test failed: %v", err)
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	p.log("SlackProvider.Connect: auth test successful, user=%s, team=%s\n", authInfo.User, authInfo.Team)

	p.mu.Lock()
	p.userID = authInfo.UserID
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	stop := make(chan struct{})
	p.stopChan = stop
	interval := p.pollInterval
	p.mu.Unlock()

	p.emit(core.ConnectionStatusEvent{State: core.ConnectionConnected})
	p.wg.Add(1)
	go p.pollUpdates(stop, interval)
	return nil
}

// Disconnect stops the polling goroutine.
func (p *SlackProvider) Disconnect() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.log("Slack: Disconnected\n")
	return nil
}

// StreamEvents returns a channel for receiving real-time events.
func (p *SlackProvider) StreamEvents() (<-chan core.ProviderEvent, error) {
	return p.eventChan, nil
}

// emit delivers an event without blocking; a full channel drops it.
func (p *SlackProvider) emit(ev core.ProviderEvent) {
	select {
	case p.eventChan <- ev:
	default:
		p.logger.Warnf("SlackProvider: event channel full, dropping %s", ev.Type())
	}
}
