package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dash-packager/internal/platform/metrics"
)

var (
	// ErrTrackFinished is returned when writing to a track after its
	// end-of-stream signal.
	ErrTrackFinished = errors.New("track finished")
	// ErrTrackFailed is returned when writing to a track whose segment
	// production terminated on a fatal storage error.
	ErrTrackFailed = errors.New("track failed")
)

// TrackWriter is the ingest path of one track. Samples arrive on the track's
// own execution context; boundary decisions, serialization and storage
// writes all run there, and only the confirmed ledger append crosses into
// the coordinator. The mutex exists because Finish may be called from the
// pipeline's teardown context rather than the sample path.
type TrackWriter struct {
	desc    TrackDescriptor
	decider *BoundaryDecider
	asm     *Assembler
	coord   *Coordinator
	log     *slog.Logger
	met     *metrics.Metrics

	mu          sync.Mutex
	cur         *Segment
	nextSeq     uint64
	lastPTS     uint64
	havePTS     bool
	initWritten bool
	finished    bool
	failed      bool
}

func newTrackWriter(desc TrackDescriptor, cfg Config, asm *Assembler, coord *Coordinator, log *slog.Logger, met *metrics.Metrics) *TrackWriter {
	cfg = cfg.withDefaults()
	return &TrackWriter{
		desc: desc,
		decider: NewBoundaryDecider(desc.Kind,
			ticks(cfg.TargetDuration, desc.Timescale),
			ticks(cfg.KeyframeFallbackMax, desc.Timescale)),
		asm:     asm,
		coord:   coord,
		log:     log.With(slog.String("track", desc.ID)),
		met:     met,
		nextSeq: cfg.StartNumber,
	}
}

// Descriptor returns the track's descriptor.
func (t *TrackWriter) Descriptor() TrackDescriptor {
	return t.desc
}

// WriteSample ingests one encoded sample. When the boundary decider closes
// the open segment, the segment is serialized and stored before this call
// returns; a serializer failure drops that segment (the error is returned,
// ingestion continues), while a storage failure that exhausts its retries
// terminates the track.
func (t *TrackWriter) WriteSample(ctx context.Context, s Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrTrackFinished
	}
	if t.failed {
		return ErrTrackFailed
	}
	if t.met != nil {
		t.met.IncSamplesIngested(t.desc.ID)
	}

	var closeErr error
	switch {
	case t.havePTS && s.PTS < t.lastPTS:
		// Non-monotonic presentation time: force the segment closed and
		// restart the timeline from the incoming sample.
		t.log.Warn("timing anomaly: non-monotonic presentation timestamp",
			slog.Uint64("pts", s.PTS),
			slog.Uint64("last_pts", t.lastPTS))
		if t.met != nil {
			t.met.IncAnomalies("timing")
		}
		closeErr = t.closeSegmentLocked(ctx)
	default:
		var accumulated uint64
		var count int
		if t.cur != nil {
			accumulated = t.cur.Duration
			count = len(t.cur.samples)
		}
		decision, missedKeyframe := t.decider.Decide(accumulated, count, s)
		if missedKeyframe {
			t.log.Warn("no keyframe within fallback window, forcing segment closed",
				slog.Uint64("sequence", t.cur.Sequence),
				slog.Uint64("accumulated", accumulated))
			if t.met != nil {
				t.met.IncAnomalies("missing_keyframe")
			}
		}
		if decision == CloseAndStartNew {
			closeErr = t.closeSegmentLocked(ctx)
		}
	}

	if t.failed {
		return closeErr
	}

	if t.cur == nil {
		t.cur = &Segment{
			TrackID:        t.desc.ID,
			Sequence:       t.nextSeq,
			Start:          s.PTS,
			BaseDecodeTime: s.DTS,
		}
		t.nextSeq++
	}
	t.cur.append(s)
	t.lastPTS = s.PTS
	t.havePTS = true

	return closeErr
}

// Finish signals end-of-stream: the open segment is force-closed regardless
// of its duration and handed to the coordinator. Further writes are rejected.
func (t *TrackWriter) Finish(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return nil
	}
	err := t.closeSegmentLocked(ctx)
	t.finished = true
	return err
}

// closeSegmentLocked serializes and stores the open segment, then enqueues
// the ledger append. Closing is irreversible; the sample buffer is released
// here whether the segment was stored or dropped.
func (t *TrackWriter) closeSegmentLocked(ctx context.Context) error {
	if t.cur == nil || len(t.cur.samples) == 0 {
		t.cur = nil
		return nil
	}
	seg := t.cur
	t.cur = nil

	if !t.initWritten {
		if _, err := t.asm.WriteInit(ctx, t.desc); err != nil {
			// Init production failing means no media segment of this track
			// can ever be decoded: treat as fatal.
			return t.failLocked(ctx, fmt.Errorf("track %s: %w", t.desc.ID, err))
		}
		t.initWritten = true
	}

	_, size, err := t.asm.WriteSegment(ctx, t.desc, seg)
	if err != nil {
		if errors.Is(err, ErrStorageFailed) {
			return t.failLocked(ctx, fmt.Errorf("track %s: %w", t.desc.ID, err))
		}
		// Serializer failure: the segment is dropped, the ledger is not
		// appended, and the stream continues.
		t.log.Error("segment dropped",
			slog.Uint64("sequence", seg.Sequence),
			slog.String("error", err.Error()))
		return fmt.Errorf("track %s: %w", t.desc.ID, err)
	}

	durationSec := seconds(seg.Duration, t.desc.Timescale).Seconds()
	var bandwidth uint64
	if durationSec > 0 {
		bandwidth = uint64(float64(size*8) / durationSec)
	}
	if t.met != nil {
		t.met.ObserveSegment(t.desc.ID, durationSec, size)
	}

	entry := LedgerEntry{
		TrackID:   t.desc.ID,
		Sequence:  seg.Sequence,
		Start:     seg.Start,
		Duration:  seg.Duration,
		Size:      size,
		Timescale: t.desc.Timescale,
	}
	if err := t.coord.Append(ctx, entry, bandwidth); err != nil {
		return fmt.Errorf("track %s: enqueue segment %d: %w", t.desc.ID, seg.Sequence, err)
	}
	return nil
}

// failLocked marks the track failed and reports it to the coordinator.
func (t *TrackWriter) failLocked(ctx context.Context, cause error) error {
	t.failed = true
	t.log.Error("track production terminated", slog.String("error", cause.Error()))
	if err := t.coord.ReportFatal(ctx, t.desc.ID); err != nil {
		t.log.Error("fatal report not delivered", slog.String("error", err.Error()))
	}
	return cause
}
