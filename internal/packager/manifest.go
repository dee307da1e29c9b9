package packager

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"dash-packager/internal/dash"
	"dash-packager/internal/platform/metrics"
	"dash-packager/internal/storage"
)

// ManifestState tracks the manifest lifecycle. Once streaming has started,
// no transition skips Finalizing.
type ManifestState int

const (
	ManifestInitializing ManifestState = iota
	ManifestLive
	ManifestFinalizing
	ManifestClosed
)

// String returns the lowercase state name.
func (s ManifestState) String() string {
	switch s {
	case ManifestInitializing:
		return "initializing"
	case ManifestLive:
		return "live"
	case ManifestFinalizing:
		return "finalizing"
	case ManifestClosed:
		return "closed"
	}
	return "unknown"
}

// ErrManifestClosed is returned when publishing after the final static
// manifest has been written.
var ErrManifestClosed = errors.New("manifest is closed")

// Fallback codec strings when the track descriptor does not carry one.
const (
	defaultVideoCodec = "avc1.64001e"
	defaultAudioCodec = "mp4a.40.2"
)

// ManifestWriter projects the ledger into an MPD document and writes it to
// the sink. A write always reflects a single consistent ledger snapshot and
// goes to the sink as one blob, so readers never observe a document mixing
// one track's new segment with stale global attributes.
//
// All mutating entry points are driven by the coordinator's single consumer
// goroutine; the internal mutex only protects reads of state and bandwidth
// from other goroutines (HTTP handlers, tests).
type ManifestWriter struct {
	cfg    Config
	ledger *Ledger
	sink   storage.Storage
	log    *slog.Logger
	met    *metrics.Metrics

	// now is the clock; replaced in tests.
	now func() time.Time

	mu                sync.Mutex
	state             ManifestState
	tracks            []TrackDescriptor
	bandwidth         map[string]uint64
	availabilityStart time.Time
}

// NewManifestWriter returns a writer in the Initializing state.
func NewManifestWriter(cfg Config, ledger *Ledger, sink storage.Storage, log *slog.Logger, met *metrics.Metrics) *ManifestWriter {
	return &ManifestWriter{
		cfg:       cfg.withDefaults(),
		ledger:    ledger,
		sink:      sink,
		log:       log,
		met:       met,
		now:       time.Now,
		bandwidth: make(map[string]uint64),
	}
}

// RegisterTrack adds a track's descriptor so a Representation for it appears
// in every subsequent manifest write.
func (m *ManifestWriter) RegisterTrack(desc TrackDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, desc)
}

// SetBandwidth records a track's current bandwidth estimate, surfaced as the
// Representation bandwidth attribute.
func (m *ManifestWriter) SetBandwidth(trackID string, bitsPerSecond uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bandwidth[trackID] = bitsPerSecond
}

// State returns the current lifecycle state.
func (m *ManifestWriter) State() ManifestState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves Initializing -> Live and writes the initial manifest with an
// empty timeline, deriving availabilityStartTime from configuration or the
// current wall clock.
func (m *ManifestWriter) Start() error {
	m.mu.Lock()
	if m.state != ManifestInitializing {
		m.mu.Unlock()
		return fmt.Errorf("start manifest in state %s", m.state)
	}
	m.availabilityStart = m.cfg.AvailabilityStart
	if m.availabilityStart.IsZero() {
		m.availabilityStart = m.now().UTC()
	}
	m.state = ManifestLive
	m.mu.Unlock()

	return m.Publish()
}

// Publish projects the current ledger into a dynamic manifest and writes it.
// Called on every ledger append and on each refresh tick.
func (m *ManifestWriter) Publish() error {
	m.mu.Lock()
	if m.state == ManifestClosed || m.state == ManifestFinalizing {
		m.mu.Unlock()
		return ErrManifestClosed
	}
	if m.state == ManifestInitializing {
		m.mu.Unlock()
		return fmt.Errorf("publish manifest in state %s", m.state)
	}
	doc := m.buildLocked(dash.TypeDynamic)
	m.mu.Unlock()

	return m.write(doc)
}

// Finalize writes the last manifest marking the presentation static and
// moves to Closed. It runs exactly once; later calls are no-ops.
func (m *ManifestWriter) Finalize() error {
	m.mu.Lock()
	if m.state == ManifestClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = ManifestFinalizing
	doc := m.buildLocked(dash.TypeStatic)
	m.state = ManifestClosed
	m.mu.Unlock()

	if err := m.write(doc); err != nil {
		return err
	}
	m.log.Info("manifest finalized", slog.String("location", m.cfg.ManifestLocation))
	return nil
}

// write serializes the document and hands it to the sink in one call.
func (m *ManifestWriter) write(doc *dash.MPD) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if err := m.sink.Write(m.cfg.ManifestLocation, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if m.met != nil {
		m.met.IncManifestWrites()
	}
	return nil
}

// buildLocked assembles the MPD from a ledger snapshot. Caller holds m.mu;
// the snapshot itself is taken under the ledger's own lock and the XML
// serialization and sink write happen outside both.
func (m *ManifestWriter) buildLocked(manifestType string) *dash.MPD {
	entries := m.ledger.Snapshot()

	var videoReps, audioReps []*dash.Representation
	var presentationEnd time.Duration

	for _, desc := range m.tracks {
		rep := &dash.Representation{
			ID:        desc.ID,
			Codecs:    desc.Codec,
			Bandwidth: m.bandwidth[desc.ID],
			SegmentTemplate: &dash.SegmentTemplate{
				Timescale:      desc.Timescale,
				Initialization: fmt.Sprintf("%s_%s", desc.ID, m.cfg.InitLocation),
				Media:          fmt.Sprintf("%s_%s", desc.ID, strings.Replace(m.cfg.SegmentLocation, "%d", "$Number$", 1)),
				StartNumber:    m.cfg.StartNumber,
			},
		}
		rep.SegmentTemplate.SegmentTimeline = buildTimeline(entries[desc.ID])

		if trackEntries := entries[desc.ID]; len(trackEntries) > 0 {
			last := trackEntries[len(trackEntries)-1]
			if end := seconds(last.Start+last.Duration, desc.Timescale); end > presentationEnd {
				presentationEnd = end
			}
		}

		switch desc.Kind {
		case TrackKindVideo:
			if rep.Codecs == "" {
				rep.Codecs = defaultVideoCodec
			}
			rep.Width = desc.Width
			rep.Height = desc.Height
			rep.FrameRate = desc.FrameRate
			videoReps = append(videoReps, rep)
		case TrackKindAudio:
			if rep.Codecs == "" {
				rep.Codecs = defaultAudioCodec
			}
			rep.AudioSamplingRate = desc.SampleRate
			if desc.Channels > 0 {
				rep.AudioChannelConfig = &dash.AudioChannelConfiguration{
					SchemeIDURI: dash.AudioChannelConfigScheme,
					Value:       strconv.Itoa(desc.Channels),
				}
			}
			audioReps = append(audioReps, rep)
		}
	}

	var sets []*dash.AdaptationSet
	if len(videoReps) > 0 {
		sets = append(sets, &dash.AdaptationSet{
			ContentType:             "video",
			MimeType:                "video/mp4",
			SegmentAlignment:        true,
			SubsegmentStartsWithSAP: 1,
			Representations:         videoReps,
		})
	}
	if len(audioReps) > 0 {
		sets = append(sets, &dash.AdaptationSet{
			ContentType:             "audio",
			MimeType:                "audio/mp4",
			SegmentAlignment:        true,
			SubsegmentStartsWithSAP: 1,
			Representations:         audioReps,
		})
	}

	doc := &dash.MPD{
		XMLNS:         dash.Namespace,
		Profiles:      dash.ProfileLive,
		Type:          manifestType,
		PublishTime:   dash.ISOTime(m.now()),
		MinBufferTime: dash.ISODuration(m.cfg.MinBufferTime),
		Periods: []*dash.Period{{
			ID:             "0",
			Start:          "PT0.000S",
			AdaptationSets: sets,
		}},
	}

	if manifestType == dash.TypeDynamic {
		doc.AvailabilityStartTime = dash.ISOTime(m.availabilityStart)
		doc.MinimumUpdatePeriod = dash.ISODuration(m.cfg.RefreshPeriod)
	} else {
		doc.MediaPresentationDuration = dash.ISODuration(presentationEnd)
	}

	return doc
}

// buildTimeline converts ledger entries into SegmentTimeline S elements,
// coalescing runs of equal-duration contiguous segments into repeat counts.
func buildTimeline(entries []LedgerEntry) *dash.SegmentTimeline {
	if len(entries) == 0 {
		return nil
	}

	tl := &dash.SegmentTimeline{}
	var cur *dash.S
	var nextStart uint64

	for _, e := range entries {
		if cur != nil && e.Duration == cur.D && e.Start == nextStart {
			if cur.R == nil {
				cur.R = dash.IntPtr(0)
			}
			*cur.R++
			nextStart += e.Duration
			continue
		}
		cur = &dash.S{D: e.Duration}
		if e.Start != nextStart || len(tl.Segments) == 0 {
			cur.T = dash.Uint64Ptr(e.Start)
		}
		tl.Segments = append(tl.Segments, cur)
		nextStart = e.Start + e.Duration
	}
	return tl
}
