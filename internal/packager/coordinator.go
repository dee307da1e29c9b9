package packager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dash-packager/internal/platform/metrics"
)

// ErrCoordinatorStopped is returned when appending after shutdown began.
var ErrCoordinatorStopped = errors.New("coordinator stopped")

// appendMsg carries one confirmed stored segment (or a fatal track failure)
// from a track's goroutine into the coordinator.
type appendMsg struct {
	entry     LedgerEntry
	bandwidth uint64
	fatal     bool
	trackID   string
}

// How many sequences of per-track start times are kept for drift checks.
const driftWindow = 8

// Coordinator serializes ledger appends and manifest writes across tracks.
// Tracks run independently up to the point a segment is stored; from there a
// single consumer goroutine owns all shared mutation, fed by a bounded
// channel, with the periodic manifest refresh as a second producer into the
// same update path. It also watches cross-track alignment: same-sequence
// segment start times drifting beyond the tolerance produce a warning, never
// a stall.
type Coordinator struct {
	ledger    *Ledger
	manifest  *ManifestWriter
	tolerance time.Duration
	refresh   time.Duration
	log       *slog.Logger
	met       *metrics.Metrics

	msgs chan appendMsg
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// starts holds recent segment start times per sequence per track,
	// only touched by the consumer goroutine.
	starts map[uint64]map[string]time.Duration
}

// NewCoordinator wires the ledger and manifest writer behind one consumer.
func NewCoordinator(ledger *Ledger, manifest *ManifestWriter, cfg Config, log *slog.Logger, met *metrics.Metrics) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		ledger:    ledger,
		manifest:  manifest,
		tolerance: cfg.AlignmentTolerance,
		refresh:   cfg.RefreshPeriod,
		log:       log,
		met:       met,
		msgs:      make(chan appendMsg, 16),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		starts:    make(map[uint64]map[string]time.Duration),
	}
}

// Start writes the initial live manifest and launches the consumer.
func (c *Coordinator) Start() error {
	var err error
	c.startOnce.Do(func() {
		if err = c.manifest.Start(); err != nil {
			return
		}
		go c.run()
	})
	return err
}

// Append hands a confirmed stored segment to the consumer. It blocks only
// while the bounded channel is full and the consumer is catching up.
func (c *Coordinator) Append(ctx context.Context, entry LedgerEntry, bandwidth uint64) error {
	select {
	case c.msgs <- appendMsg{entry: entry, bandwidth: bandwidth}:
		return nil
	case <-c.quit:
		return ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportFatal tells the coordinator a track's production has failed
// permanently. The manifest is finalized early so it does not stay
// perpetually dynamic over stale content.
func (c *Coordinator) ReportFatal(ctx context.Context, trackID string) error {
	select {
	case c.msgs <- appendMsg{fatal: true, trackID: trackID}:
		return nil
	case <-c.quit:
		return ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the consumer: pending appends are drained first, then the
// Finalizing manifest update runs and the refresh timer stops. All track
// producers must have flushed before calling Shutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.quit) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.msgs:
			c.apply(msg)
		case <-ticker.C:
			if err := c.manifest.Publish(); err != nil && !errors.Is(err, ErrManifestClosed) {
				c.log.Error("manifest refresh failed", slog.String("error", err.Error()))
			}
		case <-c.quit:
			c.drain()
			c.ledger.Seal()
			if err := c.manifest.Finalize(); err != nil {
				c.log.Error("manifest finalize failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// drain applies every append already queued before shutdown was requested.
func (c *Coordinator) drain() {
	for {
		select {
		case msg := <-c.msgs:
			c.apply(msg)
		default:
			return
		}
	}
}

func (c *Coordinator) apply(msg appendMsg) {
	if msg.fatal {
		c.log.Error("track failed, finalizing manifest early", slog.String("track", msg.trackID))
		c.ledger.Seal()
		if err := c.manifest.Finalize(); err != nil {
			c.log.Error("manifest finalize failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := c.ledger.Append(msg.entry); err != nil {
		// Without a ledger entry the segment must not reach the manifest.
		c.log.Error("ledger append rejected",
			slog.String("track", msg.entry.TrackID),
			slog.Uint64("sequence", msg.entry.Sequence),
			slog.String("error", err.Error()))
		return
	}

	c.checkAlignment(msg.entry)

	c.manifest.SetBandwidth(msg.entry.TrackID, msg.bandwidth)
	if err := c.manifest.Publish(); err != nil && !errors.Is(err, ErrManifestClosed) {
		c.log.Error("manifest publish failed",
			slog.String("track", msg.entry.TrackID),
			slog.String("error", err.Error()))
	}
}

// checkAlignment compares this segment's start time against other tracks'
// segments with the same sequence number.
func (c *Coordinator) checkAlignment(e LedgerEntry) {
	start := seconds(e.Start, e.Timescale)

	peers := c.starts[e.Sequence]
	if peers == nil {
		peers = make(map[string]time.Duration)
		c.starts[e.Sequence] = peers
	}
	for trackID, peerStart := range peers {
		drift := start - peerStart
		if drift < 0 {
			drift = -drift
		}
		if drift > c.tolerance {
			c.log.Warn("segment alignment drift exceeds tolerance",
				slog.String("track", e.TrackID),
				slog.String("peer", trackID),
				slog.Uint64("sequence", e.Sequence),
				slog.Int64("drift_ms", drift.Milliseconds()),
				slog.Int64("tolerance_ms", c.tolerance.Milliseconds()))
			if c.met != nil {
				c.met.IncDriftWarnings()
			}
		}
	}
	peers[e.TrackID] = start

	for seq := range c.starts {
		if seq+driftWindow < e.Sequence {
			delete(c.starts, seq)
		}
	}
}
