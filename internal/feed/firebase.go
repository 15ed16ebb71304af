package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/cenkalti/backoff.v1"
)

// OAuth scopes required by the realtime database REST API
var firebaseScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

const (
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second

	// Firebase sends keep-alive roughly every 30s
	defaultIdleTimeout = 90 * time.Second

	// maxEventSize bounds a single SSE data line (a full subtree on connect)
	maxEventSize = 16 * 1024 * 1024
)

var (
	errStreamCancelled = errors.New("stream cancelled by server")
	errAuthRevoked     = errors.New("auth token revoked")
	errStreamIdle      = errors.New("stream idle")
)

// ServiceAccountTokenSource loads a service account key file and returns a
// token source for the realtime database scopes
func ServiceAccountTokenSource(ctx context.Context, path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(data, firebaseScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}
	return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx)), nil
}

// FirebaseConfig configures a FirebaseSource
type FirebaseConfig struct {
	DatabaseURL string
	Path        string
	TokenSource oauth2.TokenSource // nil for unauthenticated databases
	HTTPClient  *http.Client
	OnError     ErrorHandler
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	IdleTimeout time.Duration // reconnect when no event arrives for this long
}

// FirebaseSource streams a realtime database path over server-sent events
type FirebaseSource struct {
	endpoint    string
	path        string
	client      *sse.Client
	onError     ErrorHandler
	minBackoff  time.Duration
	maxBackoff  time.Duration
	idleTimeout time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// NewFirebaseSource creates a streaming source for cfg.Path
func NewFirebaseSource(cfg FirebaseConfig, logger *log.Logger) *FirebaseSource {
	path := strings.Trim(cfg.Path, "/")
	s := &FirebaseSource{
		endpoint:    strings.TrimSuffix(cfg.DatabaseURL, "/") + "/" + path + ".json",
		path:        path,
		onError:     cfg.OnError,
		minBackoff:  cfg.MinBackoff,
		maxBackoff:  cfg.MaxBackoff,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
		now:         time.Now,
	}
	if s.minBackoff <= 0 {
		s.minBackoff = defaultMinBackoff
	}
	if s.maxBackoff < s.minBackoff {
		s.maxBackoff = defaultMaxBackoff
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}

	s.client = sse.NewClient(s.endpoint, sse.ClientMaxBufferSize(maxEventSize))
	s.client.Connection = authorizedClient(cfg.HTTPClient, cfg.TokenSource)
	s.client.ReconnectNotify = func(err error, next time.Duration) {
		s.report(&SubscriptionError{Source: s.Name(), Err: err})
		s.logf("[Feed] Reconnecting in %s", next)
	}
	s.client.OnConnect(func(*sse.Client) {
		s.logf("[Feed] Listening on %q", s.path)
	})
	return s
}

// authorizedClient attaches a bearer token to every request, redirects
// to the database shard included
func authorizedClient(base *http.Client, tokens oauth2.TokenSource) *http.Client {
	// Streams stay open indefinitely, so no client timeout
	if base == nil {
		base = &http.Client{}
	}
	if tokens == nil {
		return base
	}
	client := *base
	client.Transport = &oauth2.Transport{Source: tokens, Base: base.Transport}
	return &client
}

// Name implements Source
func (s *FirebaseSource) Name() string {
	return "firebase"
}

// Endpoint returns the streaming URL (without credentials)
func (s *FirebaseSource) Endpoint() string {
	return s.endpoint
}

// Run implements Source. Transport failures are retried inside a session
// by the SSE client; a session that the server ends, or that goes quiet,
// is restarted here with capped exponential backoff until ctx is cancelled.
func (s *FirebaseSource) Run(ctx context.Context, out chan<- Snapshot) error {
	wait := s.minBackoff
	for {
		delivered, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		s.report(&SubscriptionError{Source: s.Name(), Err: err})

		if delivered {
			wait = s.minBackoff
		}
		s.logf("[Feed] Reconnecting in %s", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait *= 2
		if wait > s.maxBackoff {
			wait = s.maxBackoff
		}
	}
}

// session subscribes until the stream ends, the server cancels it or no
// event arrives within the idle timeout. delivered reports whether any
// put or patch was applied.
func (s *FirebaseSource) session(ctx context.Context, out chan<- Snapshot) (delivered bool, err error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var reason error
	stop := func(err error) {
		mu.Lock()
		if reason == nil {
			reason = err
		}
		mu.Unlock()
		cancel()
	}

	idle := time.AfterFunc(s.idleTimeout, func() {
		stop(fmt.Errorf("%w for %s", errStreamIdle, s.idleTimeout))
	})
	defer idle.Stop()

	s.client.ReconnectStrategy = s.reconnectStrategy()

	var m mirror
	subErr := s.client.SubscribeRawWithContext(sessionCtx, func(msg *sse.Event) {
		// A slow consumer is not an idle stream
		idle.Stop()
		defer idle.Reset(s.idleTimeout)

		event := string(msg.Event)
		if err := s.dispatch(sessionCtx, &m, event, string(msg.Data), out); err != nil {
			stop(err)
			return
		}
		if event == "put" || event == "patch" {
			delivered = true
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if reason != nil {
		return delivered, reason
	}
	return delivered, subErr
}

func (s *FirebaseSource) reconnectStrategy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.minBackoff
	b.MaxInterval = s.maxBackoff
	b.MaxElapsedTime = 0
	return b
}

type streamPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// dispatch applies one SSE event to the mirror and emits the new snapshot
func (s *FirebaseSource) dispatch(ctx context.Context, m *mirror, event, data string, out chan<- Snapshot) error {
	switch event {
	case "put", "patch":
	case "keep-alive":
		return nil
	case "cancel":
		return fmt.Errorf("%w: %s", errStreamCancelled, data)
	case "auth_revoked":
		return errAuthRevoked
	default:
		s.logf("[Feed] Ignoring unknown event %q", event)
		return nil
	}

	var payload streamPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		s.report(&SubscriptionError{Source: s.Name(), Err: fmt.Errorf("malformed %s event: %w", event, err)})
		return nil
	}

	var value interface{}
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &value); err != nil {
			s.report(&SubscriptionError{Source: s.Name(), Err: fmt.Errorf("malformed %s data: %w", event, err)})
			return nil
		}
	}

	if event == "put" {
		m.put(payload.Path, value)
	} else {
		m.patch(payload.Path, value)
	}

	emit(ctx, out, snapshotFromTree(m.root, s.now()))
	return nil
}

func (s *FirebaseSource) report(err error) {
	s.logf("[Feed] %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *FirebaseSource) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}
