// Package packager turns live-encoded elementary streams into a DASH CMAF
// packaging: fragmented-MP4 init and media segments plus a continuously
// updated MPD manifest that never describes a segment that has not been
// durably stored.
package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dash-packager/internal/platform/metrics"
	"dash-packager/internal/storage"
)

// ErrPackagerClosed is returned when adding tracks or starting after Close.
var ErrPackagerClosed = errors.New("packager closed")

// Packager ties the engine together: per-track writers feeding the shared
// coordinator, which owns the timeline ledger and the manifest writer.
type Packager struct {
	cfg      Config
	asm      *Assembler
	ledger   *Ledger
	manifest *ManifestWriter
	coord    *Coordinator
	log      *slog.Logger
	met      *metrics.Metrics

	mu      sync.Mutex
	tracks  map[string]*TrackWriter
	started bool
	closed  bool
}

// New builds a packager writing through the given serializer and sink.
// met may be nil to disable metric recording.
func New(cfg Config, ser Serializer, store storage.Storage, log *slog.Logger, met *metrics.Metrics) *Packager {
	cfg = cfg.withDefaults()
	ledger := NewLedger()
	manifest := NewManifestWriter(cfg, ledger, store, log, met)
	return &Packager{
		cfg:      cfg,
		asm:      NewAssembler(ser, store, cfg, log, met),
		ledger:   ledger,
		manifest: manifest,
		coord:    NewCoordinator(ledger, manifest, cfg, log, met),
		log:      log,
		met:      met,
		tracks:   make(map[string]*TrackWriter),
	}
}

// AddTrack binds a stream: it registers the track in the manifest and
// returns the writer its samples go to. Tracks can be added before or after
// Start, but not after Close.
func (p *Packager) AddTrack(desc TrackDescriptor) (*TrackWriter, error) {
	if desc.ID == "" {
		return nil, errors.New("track descriptor without ID")
	}
	if desc.Timescale == 0 {
		return nil, fmt.Errorf("track %s: descriptor without timescale", desc.ID)
	}
	if desc.Kind != TrackKindVideo && desc.Kind != TrackKindAudio {
		return nil, fmt.Errorf("track %s: unsupported kind %q", desc.ID, desc.Kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPackagerClosed
	}
	if _, exists := p.tracks[desc.ID]; exists {
		return nil, fmt.Errorf("track %s already bound", desc.ID)
	}

	tw := newTrackWriter(desc, p.cfg, p.asm, p.coord, p.log, p.met)
	p.tracks[desc.ID] = tw
	p.manifest.RegisterTrack(desc)

	p.log.Info("track bound",
		slog.String("track", desc.ID),
		slog.String("kind", string(desc.Kind)),
		slog.Uint64("timescale", uint64(desc.Timescale)))
	return tw, nil
}

// Start writes the initial manifest and launches the coordinator.
func (p *Packager) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPackagerClosed
	}
	if p.started {
		return nil
	}
	if err := p.coord.Start(); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Close is the end-of-stream signal: every track's open segment is
// force-closed and recorded, pending ledger appends are drained, the final
// static manifest is written, and the refresh timer stops.
func (p *Packager) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	tracks := make([]*TrackWriter, 0, len(p.tracks))
	for _, tw := range p.tracks {
		tracks = append(tracks, tw)
	}
	p.mu.Unlock()

	var firstErr error
	for _, tw := range tracks {
		if err := tw.Finish(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := p.coord.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Ledger exposes the timeline ledger for read-only queries.
func (p *Packager) Ledger() *Ledger {
	return p.ledger
}

// ManifestState returns the manifest lifecycle state.
func (p *Packager) ManifestState() ManifestState {
	return p.manifest.State()
}

// ActiveTracks returns the number of tracks still producing segments.
func (p *Packager) ActiveTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tw := range p.tracks {
		tw.mu.Lock()
		if !tw.finished && !tw.failed {
			n++
		}
		tw.mu.Unlock()
	}
	return n
}
