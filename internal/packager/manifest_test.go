package packager

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManifest(t *testing.T, store *memStorage) (*ManifestWriter, *Ledger) {
	t.Helper()
	ledger := NewLedger()
	cfg := Config{AvailabilityStart: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mw := NewManifestWriter(cfg, ledger, store, testLogger(), nil)
	mw.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC) }
	return mw, ledger
}

func readManifest(t *testing.T, store *memStorage) string {
	t.Helper()
	data, err := store.Read(DefaultManifestLocation)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	return string(data)
}

func TestManifestWriter_lifecycle(t *testing.T) {
	store := newMemStorage()
	mw, _ := newTestManifest(t, store)

	if got := mw.State(); got != ManifestInitializing {
		t.Fatalf("initial state = %s", got)
	}
	if err := mw.Publish(); err == nil {
		t.Error("publish before start should fail")
	}

	if err := mw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := mw.State(); got != ManifestLive {
		t.Errorf("state after start = %s", got)
	}
	if err := mw.Start(); err == nil {
		t.Error("second start should fail")
	}

	if err := mw.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got := mw.State(); got != ManifestClosed {
		t.Errorf("state after finalize = %s", got)
	}

	if err := mw.Publish(); !errors.Is(err, ErrManifestClosed) {
		t.Errorf("publish after finalize = %v, want ErrManifestClosed", err)
	}
	if err := mw.Finalize(); err != nil {
		t.Errorf("repeated finalize should be a no-op: %v", err)
	}
}

func TestManifestWriter_initial_manifest_is_dynamic_and_empty(t *testing.T) {
	store := newMemStorage()
	mw, _ := newTestManifest(t, store)
	mw.RegisterTrack(testVideoDesc())

	if err := mw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	doc := readManifest(t, store)
	for _, want := range []string{
		`type="dynamic"`,
		`availabilityStartTime="2026-03-01T12:00:00.000Z"`,
		`minimumUpdatePeriod=`,
		`publishTime="2026-03-01T12:00:30.000Z"`,
		`profiles="urn:mpeg:dash:profile:isoff-live:2011"`,
		`initialization="video_init.cmfi"`,
		`media="video_segment_$Number$.cmfv"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("manifest missing %s:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "<SegmentTimeline>") {
		t.Errorf("empty ledger should produce no timeline:\n%s", doc)
	}
}

func TestManifestWriter_publish_reflects_ledger(t *testing.T) {
	store := newMemStorage()
	mw, ledger := newTestManifest(t, store)
	mw.RegisterTrack(testVideoDesc())
	mw.RegisterTrack(TrackDescriptor{ID: "audio", Kind: TrackKindAudio, Timescale: 48000, Codec: "mp4a.40.2", SampleRate: 48000, Channels: 2})
	mw.SetBandwidth("video", 4_000_000)

	if err := mw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ledger.Append(LedgerEntry{
			TrackID: "video", Sequence: uint64(i),
			Start: uint64(i) * 900000, Duration: 900000, Timescale: 90000,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := mw.Publish(); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	doc := readManifest(t, store)
	for _, want := range []string{
		`contentType="video"`,
		`contentType="audio"`,
		`bandwidth="4000000"`,
		`codecs="avc1.64001e"`,
		`codecs="mp4a.40.2"`,
		`audioSamplingRate="48000"`,
		`<AudioChannelConfiguration schemeIdUri="urn:mpeg:dash:23003:3:audio_channel_configuration:2011" value="2">`,
		`segmentAlignment="true"`,
		`<S t="0" d="900000" r="1"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("manifest missing %s:\n%s", want, doc)
		}
	}
}

func TestManifestWriter_finalize_is_static_with_duration(t *testing.T) {
	store := newMemStorage()
	mw, ledger := newTestManifest(t, store)
	mw.RegisterTrack(testVideoDesc())

	if err := mw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ledger.Append(LedgerEntry{
		TrackID: "video", Sequence: 0, Start: 0, Duration: 900000, Timescale: 90000,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mw.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	doc := readManifest(t, store)
	if !strings.Contains(doc, `type="static"`) {
		t.Errorf("final manifest should be static:\n%s", doc)
	}
	if !strings.Contains(doc, `mediaPresentationDuration="PT10.000S"`) {
		t.Errorf("final manifest missing presentation duration:\n%s", doc)
	}
	if strings.Contains(doc, "availabilityStartTime") || strings.Contains(doc, "minimumUpdatePeriod") {
		t.Errorf("static manifest should drop live-only attributes:\n%s", doc)
	}
}

func TestBuildTimeline_coalesces_runs(t *testing.T) {
	entries := []LedgerEntry{
		{Sequence: 0, Start: 0, Duration: 900000},
		{Sequence: 1, Start: 900000, Duration: 900000},
		{Sequence: 2, Start: 1800000, Duration: 900000},
		{Sequence: 3, Start: 2700000, Duration: 720000},
		{Sequence: 4, Start: 3420000, Duration: 900000},
	}

	tl := buildTimeline(entries)
	if tl == nil {
		t.Fatal("timeline is nil")
	}
	if len(tl.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(tl.Segments))
	}

	first := tl.Segments[0]
	if first.T == nil || *first.T != 0 || first.D != 900000 || first.R == nil || *first.R != 2 {
		t.Errorf("first S = %+v", first)
	}
	second := tl.Segments[1]
	if second.T != nil || second.D != 720000 || second.R != nil {
		t.Errorf("second S = %+v", second)
	}
	third := tl.Segments[2]
	if third.T != nil || third.D != 900000 || third.R != nil {
		t.Errorf("third S = %+v", third)
	}
}

func TestBuildTimeline_gap_emits_explicit_time(t *testing.T) {
	entries := []LedgerEntry{
		{Sequence: 0, Start: 0, Duration: 900000},
		// Sequence 1 was dropped; its time range is missing.
		{Sequence: 2, Start: 1800000, Duration: 900000},
	}

	tl := buildTimeline(entries)
	if len(tl.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(tl.Segments))
	}
	gap := tl.Segments[1]
	if gap.T == nil || *gap.T != 1800000 {
		t.Errorf("segment after gap should carry explicit t, got %+v", gap)
	}
}

func TestBuildTimeline_empty(t *testing.T) {
	if tl := buildTimeline(nil); tl != nil {
		t.Errorf("empty entries should produce nil timeline, got %+v", tl)
	}
}
