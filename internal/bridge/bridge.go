// Package bridge forwards device readings from the change feed to the
// consumption API
package bridge

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"wattchbridge/internal/device"
	"wattchbridge/internal/events"
	"wattchbridge/internal/feed"
	"wattchbridge/internal/forwarder"
	"wattchbridge/internal/gate"
	"wattchbridge/internal/mqtt"
	"wattchbridge/internal/stats"
	"wattchbridge/internal/storage"
)

const (
	DefaultStatusInterval = 60 * time.Second
	DefaultResetInterval  = 60 * time.Second

	defaultEventCapacity = 200
	resultBuffer         = 64

	// journalTrimEvery is how many appends happen between journal trims
	journalTrimEvery = 100
)

// Forwarder is the consumption API
type Forwarder interface {
	SyncConsumption(ctx context.Context, req forwarder.SyncRequest) (*forwarder.SyncResponse, error)
	CheckReset(ctx context.Context, name string) (*forwarder.ResetResponse, error)
}

// Mirror receives every successfully forwarded sample
type Mirror interface {
	PublishSample(s mqtt.Sample) error
}

// Config holds the bridge dependencies and settings
type Config struct {
	Client         Forwarder
	UserDatabase   string
	FeedPath       string
	SyncInterval   time.Duration
	StatusInterval time.Duration
	ResetInterval  time.Duration

	Events     *events.Store   // optional, created when nil
	Journal    storage.Journal // optional
	JournalMax int
	Mirror     Mirror // optional

	Logger *log.Logger // always-on output
	Debug  *log.Logger // debug output, discarded when nil
}

// Result is the outcome of one forward task
type Result struct {
	Device          string
	Category        device.Category
	Power           float64
	DurationSeconds float64
	At              time.Time
	Response        *forwarder.SyncResponse
	Err             error
}

// Bridge owns the per-device sync state and the forwarding pipeline
type Bridge struct {
	cfg     Config
	gate    *gate.Gate
	stats   *stats.Stats
	events  *events.Store
	logger  *log.Logger
	debug   *log.Logger
	now     func() time.Time
	results chan Result

	inflight sync.WaitGroup

	trimMu   sync.Mutex
	appended int // journal appends since last trim
}

// New creates a bridge. cfg.Client is required.
func New(cfg Config) *Bridge {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = DefaultResetInterval
	}
	if cfg.FeedPath == "" {
		cfg.FeedPath = "WATTch"
	}

	b := &Bridge{
		cfg:     cfg,
		gate:    gate.New(cfg.SyncInterval),
		stats:   stats.New(),
		events:  cfg.Events,
		logger:  cfg.Logger,
		debug:   cfg.Debug,
		now:     time.Now,
		results: make(chan Result, resultBuffer),
	}
	if b.events == nil {
		b.events = events.NewStore(defaultEventCapacity)
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard, "", 0)
	}
	if b.debug == nil {
		b.debug = log.New(io.Discard, "", 0)
	}
	return b
}

// Stats returns a snapshot of the counters
func (b *Bridge) Stats() stats.Snapshot {
	return b.stats.Snapshot()
}

// Devices returns the sync state of every device seen so far
func (b *Bridge) Devices() []gate.DeviceState {
	return b.gate.Snapshot()
}

// Events returns the bridge event log
func (b *Bridge) Events() *events.Store {
	return b.events
}

// Journal returns the outcome journal, nil when disabled
func (b *Bridge) Journal() storage.Journal {
	return b.cfg.Journal
}

// SyncInterval returns the effective gate interval
func (b *Bridge) SyncInterval() time.Duration {
	return b.gate.Interval()
}

// Run consumes snapshots until ctx is cancelled or the channel closes,
// then waits for in-flight forwards to finish. Run may be called again
// after it returns; results of forwards started outside Run queue until
// the next call.
func (b *Bridge) Run(ctx context.Context, snapshots <-chan feed.Snapshot) error {
	stop := make(chan struct{})
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case res := <-b.results:
				b.collect(res)
			case <-stop:
				b.drainResults()
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case snap, ok := <-snapshots:
			if !ok {
				break loop
			}
			b.HandleSnapshot(ctx, snap)
		}
	}

	b.inflight.Wait()
	close(stop)
	<-collected
	return nil
}

// drainResults collects everything already queued
func (b *Bridge) drainResults() {
	for {
		select {
		case res := <-b.results:
			b.collect(res)
		default:
			return
		}
	}
}

// HandleSnapshot evaluates every device key of a snapshot through the gate,
// in sorted order, and dispatches forward tasks
func (b *Bridge) HandleSnapshot(ctx context.Context, snap feed.Snapshot) {
	if snap.Devices == nil {
		b.logger.Printf("No data found in Firebase at path %q", b.cfg.FeedPath)
		return
	}

	for _, id := range snap.IDs() {
		if !device.IsDeviceID(id) {
			continue
		}

		if _, seen := b.gate.Lookup(id); !seen {
			b.events.Add(events.Event{
				Type:    events.EventDeviceSeen,
				Device:  id,
				Details: device.Classify(id).String(),
			})
		}

		now := b.now()
		d := b.gate.Observe(id, snap.Devices[id], now)
		if !d.Forward {
			continue
		}
		b.dispatch(ctx, id, d, now)
	}
}

// dispatch runs one forward call on its own goroutine. The call outlives
// ctx cancellation so shutdown can drain it; the client timeout bounds it.
func (b *Bridge) dispatch(ctx context.Context, id string, d gate.Decision, now time.Time) {
	callCtx := context.WithoutCancel(ctx)
	category := device.Classify(id)
	req := forwarder.SyncRequest{
		Name:            b.cfg.UserDatabase,
		LoadType:        category.LoadType(),
		SocketID:        id,
		Power:           d.Power,
		DurationSeconds: d.DurationSeconds,
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		resp, err := b.cfg.Client.SyncConsumption(callCtx, req)
		b.results <- Result{
			Device:          id,
			Category:        category,
			Power:           d.Power,
			DurationSeconds: d.DurationSeconds,
			At:              now,
			Response:        resp,
			Err:             err,
		}
	}()
}

// collect accounts for one forward outcome
func (b *Bridge) collect(res Result) {
	rec := storage.Record{
		Kind:            storage.KindSync,
		Timestamp:       res.At,
		Device:          res.Device,
		LoadType:        res.Category.String(),
		Power:           res.Power,
		DurationSeconds: res.DurationSeconds,
	}

	if res.Err != nil {
		b.stats.IncError()
		b.logger.Printf("✗ Sync failed for %s: %v", res.Device, res.Err)
		if body := forwarder.ResponseBody(res.Err); len(body) > 0 {
			b.logger.Printf("Response: %s", body)
		}

		b.events.Add(events.Event{
			Type:            events.EventForwardFailed,
			Device:          res.Device,
			Power:           res.Power,
			DurationSeconds: res.DurationSeconds,
			Details:         res.Err.Error(),
		})

		rec.ErrorKind = string(forwarder.Kind(res.Err))
		rec.Error = res.Err.Error()
		b.journal(rec)
		return
	}

	b.stats.IncSync()
	hour := res.Response.HourBucket()
	b.debug.Printf("✓ Synced %s: %vW (%.1fs) -> %s", res.Device, res.Power, res.DurationSeconds, hour)

	b.events.Add(events.Event{
		Type:            events.EventForwarded,
		Device:          res.Device,
		Power:           res.Power,
		DurationSeconds: res.DurationSeconds,
		Details:         hour,
	})

	rec.Success = true
	rec.HourBucket = hour
	b.journal(rec)

	if b.cfg.Mirror != nil {
		err := b.cfg.Mirror.PublishSample(mqtt.Sample{
			Device:          res.Device,
			Category:        res.Category,
			Power:           res.Power,
			DurationSeconds: res.DurationSeconds,
			HourBucket:      hour,
			Timestamp:       res.At,
		})
		if err != nil {
			b.debug.Printf("[Mirror] Failed to publish %s: %v", res.Device, err)
		}
	}
}

// CheckResets asks the API to perform any due bucket resets
func (b *Bridge) CheckResets(ctx context.Context) error {
	b.stats.IncResetCheck()
	rec := storage.Record{Kind: storage.KindReset, Timestamp: b.now()}

	resp, err := b.cfg.Client.CheckReset(ctx, b.cfg.UserDatabase)
	if err != nil {
		b.stats.IncResetError()
		b.logger.Printf("✗ Reset check failed: %v", err)
		b.events.Add(events.Event{Type: events.EventResetFailed, Details: err.Error()})

		rec.ErrorKind = string(forwarder.Kind(err))
		rec.Error = err.Error()
		b.journal(rec)
		return err
	}

	rec.Success = true
	if resp != nil && len(resp.ResetsPerformed) > 0 {
		performed := strings.Join(resp.ResetsPerformed, ", ")
		b.debug.Printf("✓ Performed resets: %s", performed)
		b.events.Add(events.Event{Type: events.EventResetPerformed, Details: performed})
		rec.Resets = resp.ResetsPerformed
	}
	b.journal(rec)
	return nil
}

// RunResetChecker calls CheckResets every reset interval until ctx is
// cancelled. A check already in flight at shutdown runs to completion.
func (b *Bridge) RunResetChecker(ctx context.Context) error {
	runPeriodic(ctx, b.cfg.ResetInterval, b.debug, "Reset", func(ctx context.Context) {
		b.CheckResets(context.WithoutCancel(ctx))
	})
	return nil
}

// FeedError records a recoverable feed failure
func (b *Bridge) FeedError(err error) {
	b.events.Add(events.Event{Type: events.EventFeedError, Details: err.Error()})
}

// journal appends rec when a journal is configured, trimming periodically
func (b *Bridge) journal(rec storage.Record) {
	j := b.cfg.Journal
	if j == nil {
		return
	}
	if err := j.Append(rec); err != nil {
		b.logger.Printf("[Journal] Failed to append: %v", err)
		return
	}

	b.trimMu.Lock()
	b.appended++
	trim := b.cfg.JournalMax > 0 && b.appended >= journalTrimEvery
	if trim {
		b.appended = 0
	}
	b.trimMu.Unlock()

	if trim {
		if err := j.Trim(b.cfg.JournalMax); err != nil {
			b.logger.Printf("[Journal] Failed to trim: %v", err)
		}
	}
}
