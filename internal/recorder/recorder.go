// Package recorder persists click events off the redirect path.
//
// Record only enqueues. A fixed pool of workers enriches queued clicks with
// a visitor fingerprint, geo and user agent details, and writes them to the
// event store in batches, flushing when a batch fills up or the flush
// interval passes. A full queue drops the click.
package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/geo"
	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
)

var (
	clicksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortlink_clicks_enqueued_total",
		Help: "Click events accepted into the recorder queue",
	})
	clicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortlink_clicks_dropped_total",
		Help: "Click events dropped because the queue was full or closed",
	})
	clicksPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortlink_clicks_persisted_total",
		Help: "Click events written to the event store",
	})
	clicksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortlink_clicks_failed_total",
		Help: "Click events lost to event store write failures",
	})
)

type click struct {
	code string
	rc   model.RequestContext
}

type Recorder struct {
	events  repository.EventStore
	locator geo.Locator
	cfg     config.RecorderConfig
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan click
	wg     sync.WaitGroup

	dropped atomic.Int64
}

func New(events repository.EventStore, locator geo.Locator, cfg *config.RecorderConfig, logger *zap.Logger) *Recorder {
	if locator == nil {
		locator = geo.Nop{}
	}
	return &Recorder{
		events:  events,
		locator: locator,
		cfg:     *cfg,
		logger:  logger,
		queue:   make(chan click, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (r *Recorder) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info("click recorder started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_size", r.cfg.QueueSize),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("flush_interval", r.cfg.FlushInterval),
	)
}

// Stop closes the queue and waits until every queued click is flushed.
// Clicks recorded after Stop are dropped.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("click recorder stopped", zap.Int64("dropped", r.dropped.Load()))
}

// Record enqueues a click for code. It never blocks.
func (r *Recorder) Record(code string, rc model.RequestContext) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(code, "recorder stopped")
		return
	}

	select {
	case r.queue <- click{code: code, rc: rc}:
		clicksEnqueued.Inc()
	default:
		r.drop(code, "queue full")
	}
}

// Dropped returns how many clicks were discarded without being written.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) drop(code, reason string) {
	r.dropped.Add(1)
	clicksDropped.Inc()
	r.logger.Warn("click dropped", zap.String("code", code), zap.String("reason", reason))
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.ClickEvent, 0, r.cfg.BatchSize)

	for {
		select {
		case c, ok := <-r.queue:
			if !ok {
				r.flush(id, batch)
				return
			}
			batch = append(batch, r.enrich(c))
			if len(batch) >= r.cfg.BatchSize {
				r.flush(id, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(id, batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(worker int, batch []model.ClickEvent) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.events.InsertClickEvents(ctx, batch); err != nil {
		clicksFailed.Add(float64(len(batch)))
		r.logger.Error("failed to persist click events",
			zap.Int("worker", worker),
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
		return
	}

	clicksPersisted.Add(float64(len(batch)))
	r.logger.Debug("click events persisted", zap.Int("worker", worker), zap.Int("count", len(batch)))
}

func (r *Recorder) enrich(c click) model.ClickEvent {
	ts := c.rc.Time.UTC()
	fp := Fingerprint(r.cfg.FingerprintSalt, c.rc.IP, c.rc.UserAgent, ts, r.cfg.FingerprintWindow)

	event := model.ClickEvent{
		EventID:            EventID(c.code, ts, fp),
		LinkCode:           c.code,
		Timestamp:          ts,
		VisitorFingerprint: fp,
		Referrer:           c.rc.Referrer,
		UserAgent:          c.rc.UserAgent,
	}

	if loc, ok := r.locator.Lookup(c.rc.IP); ok {
		event.Country = loc.Country
		event.Region = loc.Region
		event.City = loc.City
	}

	agent := ParseUserAgent(c.rc.UserAgent)
	event.Device = agent.Device
	event.Browser = agent.Browser
	event.OS = agent.OS
	event.Bot = agent.Bot

	return event
}
