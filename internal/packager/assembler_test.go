package packager

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func testVideoDesc() TrackDescriptor {
	return TrackDescriptor{ID: "video", Kind: TrackKindVideo, Timescale: 90000, Codec: "avc1.64001e"}
}

func testConfig() Config {
	return Config{}.withDefaults()
}

func TestAssembler_deterministic_names(t *testing.T) {
	asm := NewAssembler(&fakeSerializer{}, newMemStorage(), testConfig(), testLogger(), nil)

	if got := asm.InitName("video"); got != "video_init.cmfi" {
		t.Errorf("InitName = %q, want %q", got, "video_init.cmfi")
	}
	if got := asm.SegmentName("video", 7); got != "video_segment_7.cmfv" {
		t.Errorf("SegmentName = %q, want %q", got, "video_segment_7.cmfv")
	}

	cfg := testConfig()
	cfg.InitLocation = "header.mp4"
	cfg.SegmentLocation = "chunk-%d.m4s"
	asm = NewAssembler(&fakeSerializer{}, newMemStorage(), cfg, testLogger(), nil)
	if got := asm.SegmentName("audio", 0); got != "audio_chunk-0.m4s" {
		t.Errorf("SegmentName with custom template = %q, want %q", got, "audio_chunk-0.m4s")
	}
}

func TestAssembler_write_init(t *testing.T) {
	store := newMemStorage()
	asm := NewAssembler(&fakeSerializer{}, store, testConfig(), testLogger(), nil)

	name, err := asm.WriteInit(context.Background(), testVideoDesc())
	if err != nil {
		t.Fatalf("WriteInit: %v", err)
	}
	if name != "video_init.cmfi" {
		t.Errorf("name = %q, want %q", name, "video_init.cmfi")
	}

	data, err := store.Read(name)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "init:video" {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestAssembler_write_segment(t *testing.T) {
	store := newMemStorage()
	ser := &fakeSerializer{}
	asm := NewAssembler(ser, store, testConfig(), testLogger(), nil)

	seg := &Segment{TrackID: "video", Sequence: 3, Start: 540000, BaseDecodeTime: 540000}
	seg.append(videoSample(540000, 3000, true))
	seg.append(videoSample(543000, 3000, false))

	name, size, err := asm.WriteSegment(context.Background(), testVideoDesc(), seg)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if name != "video_segment_3.cmfv" {
		t.Errorf("name = %q", name)
	}

	data, err := store.Read(name)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, stored %d bytes", size, len(data))
	}
	if !strings.HasPrefix(string(data), "seg:video:3:540000:") {
		t.Errorf("stored bytes = %q", data)
	}

	if len(ser.segCalls) != 1 || ser.segCalls[0].samples != 2 {
		t.Errorf("serializer calls = %+v", ser.segCalls)
	}
}

func TestAssembler_serializer_error_writes_nothing(t *testing.T) {
	store := newMemStorage()
	ser := &fakeSerializer{failSeq: map[uint64]bool{0: true}}
	asm := NewAssembler(ser, store, testConfig(), testLogger(), nil)

	seg := &Segment{TrackID: "video", Sequence: 0}
	seg.append(videoSample(0, 3000, true))

	_, _, err := asm.WriteSegment(context.Background(), testVideoDesc(), seg)
	if err == nil {
		t.Fatal("expected serializer error")
	}
	if errors.Is(err, ErrStorageFailed) {
		t.Error("serializer error must not be classified as a storage failure")
	}
	if len(store.objects) != 0 {
		t.Errorf("nothing should be stored, got %d objects", len(store.objects))
	}
}

func TestAssembler_retries_transient_storage_failure(t *testing.T) {
	store := newMemStorage()
	store.failNext("video_segment_0.cmfv", 2)
	asm := NewAssembler(&fakeSerializer{}, store, testConfig(), testLogger(), nil)

	seg := &Segment{TrackID: "video", Sequence: 0}
	seg.append(videoSample(0, 3000, true))

	if _, _, err := asm.WriteSegment(context.Background(), testVideoDesc(), seg); err != nil {
		t.Fatalf("WriteSegment after transient failures: %v", err)
	}
	if got := store.writes("video_segment_0.cmfv"); got != 1 {
		t.Errorf("successful writes = %d, want 1", got)
	}
}

func TestAssembler_exhausted_retries_is_storage_failure(t *testing.T) {
	store := newMemStorage()
	store.failNext("video_segment_0.cmfv", 10)
	asm := NewAssembler(&fakeSerializer{}, store, testConfig(), testLogger(), nil)

	seg := &Segment{TrackID: "video", Sequence: 0}
	seg.append(videoSample(0, 3000, true))

	_, _, err := asm.WriteSegment(context.Background(), testVideoDesc(), seg)
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("err = %v, want ErrStorageFailed", err)
	}
	if got := store.writes("video_segment_0.cmfv"); got != 0 {
		t.Errorf("successful writes = %d, want 0", got)
	}
}

func TestAssembler_write_respects_context(t *testing.T) {
	store := newMemStorage()
	store.failNext("video_init.cmfi", 10)
	asm := NewAssembler(&fakeSerializer{}, store, testConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := asm.WriteInit(ctx, testVideoDesc())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
