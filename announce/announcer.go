// Package announce tells the control plane that this node exists and is
// waiting to be provisioned.
//
// Heartbeats are sent forever until Stop is called. An unacknowledged
// heartbeat is retried after the base interval; once the control plane
// answers 200 the cadence halves (next heartbeat after twice the base
// interval). This is the inverse of failure backoff: the node slows down
// once it has been seen, and retries promptly while it has not.
package announce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/ruteri/node-bootstrap/metrics"
)

const (
	DefaultBaseInterval   = 60 * time.Second
	DefaultAttemptTimeout = 30 * time.Second

	// acknowledgedFactor scales the base interval after a 200 response.
	acknowledgedFactor = 2
)

type Config struct {
	NodeID interfaces.NodeID

	// BaseInterval is the delay after a failed heartbeat.
	BaseInterval time.Duration

	// AttemptTimeout bounds a single heartbeat request.
	AttemptTimeout time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Log        *slog.Logger
}

// Announcer owns the heartbeat timer. At most one timer is pending at any time.
type Announcer struct {
	nodeID         interfaces.NodeID
	baseInterval   time.Duration
	attemptTimeout time.Duration
	client         *http.Client
	clock          clock.Clock
	log            *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	timer     *clock.Timer
	nextDelay time.Duration
	schedules int
}

func New(cfg Config) *Announcer {
	a := &Announcer{
		nodeID:         cfg.NodeID,
		baseInterval:   cfg.BaseInterval,
		attemptTimeout: cfg.AttemptTimeout,
		client:         cfg.HTTPClient,
		clock:          cfg.Clock,
		log:            cfg.Log,
	}

	if a.baseInterval <= 0 {
		a.baseInterval = DefaultBaseInterval
	}
	if a.attemptTimeout <= 0 {
		a.attemptTimeout = DefaultAttemptTimeout
	}
	if a.client == nil {
		a.client = http.DefaultClient
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	return a
}

// NodeID returns the identifier used in the announce path.
func (a *Announcer) NodeID() interfaces.NodeID {
	return a.nodeID
}

// Start sends the first heartbeat right away (in the background) and keeps
// announcing until Stop. Starting again replaces the previous run.
func (a *Announcer) Start(controlPlaneURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	announceURL := fmt.Sprintf("%s/api/v1/boxes/%s/announce",
		strings.TrimSuffix(controlPlaneURL, "/"), url.PathEscape(a.nodeID.String()))

	a.log.Info("Starting announce loop", "url", announceURL, "baseInterval", a.baseInterval)
	go a.heartbeat(ctx, announceURL)
}

// Stop cancels the pending heartbeat and any request in flight. It is a no-op
// when nothing is running.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Announcer) stopLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.log.Debug("Announce loop stopped")
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Announcer) heartbeat(ctx context.Context, announceURL string) {
	next := a.baseInterval
	err := a.announce(ctx, announceURL)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		metrics.AnnounceAttempts.WithLabelValues(metrics.ResultFailed).Inc()
		a.log.Debug("Announce failed", "err", err, "retryIn", next)
	} else {
		next = acknowledgedFactor * a.baseInterval
		metrics.AnnounceAttempts.WithLabelValues(metrics.ResultAcknowledged).Inc()
		a.log.Debug("Announce acknowledged", "nextIn", next)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Stopped while the request was in flight.
	if ctx.Err() != nil {
		return
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.nextDelay = next
	a.schedules++
	a.timer = a.clock.AfterFunc(next, func() {
		a.heartbeat(ctx, announceURL)
	})
}

func (a *Announcer) announce(ctx context.Context, announceURL string) error {
	reqCtx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, announceURL, nil)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request announce endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("announce endpoint returned non-200 response: %d", resp.StatusCode)
	}

	return nil
}

// scheduled reports the delay of the most recently scheduled heartbeat and
// how many heartbeats have been scheduled so far.
func (a *Announcer) scheduled() (time.Duration, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextDelay, a.schedules
}
