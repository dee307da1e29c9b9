package packager

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// fakeSerializer produces deterministic bytes without a real container
// writer: the output length depends only on the samples passed in.
type fakeSerializer struct {
	mu        sync.Mutex
	initCalls []string
	segCalls  []fakeSegCall
	failInit  bool
	failSeq   map[uint64]bool // sequences whose serialization fails
}

type fakeSegCall struct {
	trackID  string
	sequence uint64
	baseTime uint64
	samples  int
}

func (f *fakeSerializer) SerializeInit(desc TrackDescriptor) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInit {
		return nil, fmt.Errorf("serialize init %s: boom", desc.ID)
	}
	f.initCalls = append(f.initCalls, desc.ID)
	return []byte("init:" + desc.ID), nil
}

func (f *fakeSerializer) Serialize(desc TrackDescriptor, samples []Sample, sequence uint64, baseTime uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSeq[sequence] {
		return nil, fmt.Errorf("serialize %s seq %d: boom", desc.ID, sequence)
	}
	f.segCalls = append(f.segCalls, fakeSegCall{
		trackID: desc.ID, sequence: sequence, baseTime: baseTime, samples: len(samples),
	})
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "seg:%s:%d:%d:", desc.ID, sequence, baseTime)
	for _, s := range samples {
		buf.Write(s.Payload)
	}
	return buf.Bytes(), nil
}

// memStorage is an in-memory Storage with optional per-name failure
// injection and a hook invoked after every successful write.
type memStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	history  map[string]int // write count per name
	failures map[string]int // remaining failures per name
	onWrite  func(name string, data []byte)
}

func newMemStorage() *memStorage {
	return &memStorage{
		objects:  make(map[string][]byte),
		history:  make(map[string]int),
		failures: make(map[string]int),
	}
}

func (m *memStorage) failNext(name string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = times
}

func (m *memStorage) Write(name string, data []byte) error {
	m.mu.Lock()
	if m.failures[name] > 0 {
		m.failures[name]--
		m.mu.Unlock()
		return fmt.Errorf("injected write failure for %s", name)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[name] = cp
	m.history[name]++
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(name, cp)
	}
	return nil
}

func (m *memStorage) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("not found: %s", name)
	}
	return data, nil
}

func (m *memStorage) Exists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *memStorage) List(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.objects {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *memStorage) writes(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[name]
}

// videoSample builds a keyframe-flagged or plain video sample.
func videoSample(ts uint64, dur uint32, keyframe bool) Sample {
	return Sample{DTS: ts, PTS: ts, Duration: dur, Keyframe: keyframe, Payload: []byte{0xab, 0xcd}}
}

// audioSample builds an audio sample.
func audioSample(ts uint64, dur uint32) Sample {
	return Sample{DTS: ts, PTS: ts, Duration: dur, Payload: []byte{0x11}}
}

// testLogger returns a logger whose output is dropped.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
