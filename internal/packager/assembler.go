package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dash-packager/internal/platform/metrics"
	"dash-packager/internal/storage"
)

// ErrStorageFailed marks a storage write that exhausted its retries; callers
// treat it as fatal for the track, unlike a serializer failure which only
// drops the one segment.
var ErrStorageFailed = errors.New("storage write failed")

// Serializer is the container writer the assembler delegates to. It turns
// sample metadata plus payloads into standards-conformant fragmented
// containers; failures are propagated, never retried here.
type Serializer interface {
	// SerializeInit produces the once-per-track init segment bytes.
	SerializeInit(desc TrackDescriptor) ([]byte, error)
	// Serialize produces one media segment from samples in presentation
	// order; baseTime is the segment's start so fragment-local timestamps
	// stay continuous across segments.
	Serialize(desc TrackDescriptor, samples []Sample, sequence uint64, baseTime uint64) ([]byte, error)
}

const retryBackoff = 50 * time.Millisecond

// Assembler turns a closed segment into stored bytes: it invokes the
// serializer and writes the result to the storage sink under an identifier
// derived deterministically from (track ID, sequence number). Storage writes
// are retried a bounded number of times; a write that exhausts its retries
// is fatal for the track.
type Assembler struct {
	ser     Serializer
	store   storage.Storage
	init    string // init segment name, e.g. "init.cmfi"
	segment string // media segment name template with %d, e.g. "segment_%d.cmfv"
	retries int
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewAssembler returns an assembler writing through the given serializer and
// sink. met may be nil to disable metric recording.
func NewAssembler(ser Serializer, store storage.Storage, cfg Config, log *slog.Logger, met *metrics.Metrics) *Assembler {
	cfg = cfg.withDefaults()
	return &Assembler{
		ser:     ser,
		store:   store,
		init:    cfg.InitLocation,
		segment: cfg.SegmentLocation,
		retries: cfg.StorageRetries,
		log:     log,
		metrics: met,
	}
}

// InitName returns the deterministic identifier of a track's init segment.
func (a *Assembler) InitName(trackID string) string {
	return fmt.Sprintf("%s_%s", trackID, a.init)
}

// SegmentName returns the deterministic identifier of a media segment.
func (a *Assembler) SegmentName(trackID string, sequence uint64) string {
	return fmt.Sprintf("%s_%s", trackID, fmt.Sprintf(a.segment, sequence))
}

// WriteInit serializes and stores a track's init segment.
func (a *Assembler) WriteInit(ctx context.Context, desc TrackDescriptor) (string, error) {
	data, err := a.ser.SerializeInit(desc)
	if err != nil {
		return "", fmt.Errorf("serialize init: %w", err)
	}

	name := a.InitName(desc.ID)
	if err := a.write(ctx, name, data); err != nil {
		return "", err
	}

	a.log.Info("init segment written",
		slog.String("track", desc.ID),
		slog.String("name", name),
		slog.Int("size", len(data)))
	return name, nil
}

// WriteSegment serializes and stores one closed media segment, returning its
// identifier and stored size. On a serializer error the segment is dropped;
// on a storage error the caller must treat the track as failed. In both
// cases no ledger entry may be recorded.
func (a *Assembler) WriteSegment(ctx context.Context, desc TrackDescriptor, seg *Segment) (string, int64, error) {
	data, err := a.ser.Serialize(desc, seg.Samples(), seg.Sequence, seg.BaseDecodeTime)
	if err != nil {
		return "", 0, fmt.Errorf("serialize segment %d: %w", seg.Sequence, err)
	}

	name := a.SegmentName(desc.ID, seg.Sequence)
	if err := a.write(ctx, name, data); err != nil {
		return "", 0, err
	}

	a.log.Debug("media segment written",
		slog.String("track", desc.ID),
		slog.Uint64("sequence", seg.Sequence),
		slog.String("name", name),
		slog.Int("size", len(data)))
	return name, int64(len(data)), nil
}

// write stores data with bounded retries.
func (a *Assembler) write(ctx context.Context, name string, data []byte) error {
	var err error
	for attempt := 0; attempt < a.retries; attempt++ {
		if attempt > 0 {
			if a.metrics != nil {
				a.metrics.IncStorageRetries()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		if err = a.store.Write(name, data); err == nil {
			return nil
		}
		a.log.Warn("storage write failed",
			slog.String("name", name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	if a.metrics != nil {
		a.metrics.IncStorageFailures()
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrStorageFailed, name, a.retries, err)
}
