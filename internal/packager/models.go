package packager

// TrackKind distinguishes the media type of a track.
type TrackKind string

const (
	// TrackKindVideo is an encoded video elementary stream.
	TrackKindVideo TrackKind = "video"
	// TrackKindAudio is an encoded audio elementary stream.
	TrackKindAudio TrackKind = "audio"
)

// TrackDescriptor carries the identity and codec-level parameters of a track.
// The descriptor is handed through to the container serializer and to the
// manifest; the packager itself only interprets ID, Kind and Timescale.
type TrackDescriptor struct {
	// ID is a stable identifier, used in output file names and as the
	// Representation id in the manifest (e.g. "video_0").
	ID string
	// Kind is the media type of the track.
	Kind TrackKind
	// Timescale is the number of timestamp ticks per second for this track.
	Timescale uint32
	// Codec is the RFC 6381 codec string advertised in the manifest
	// (e.g. "avc1.64001e", "mp4a.40.2").
	Codec string

	// Video parameters.
	SPS       [][]byte
	PPS       [][]byte
	Width     int
	Height    int
	FrameRate string // e.g. "30/1"

	// Audio parameters.
	ObjectType byte // AAC audio object type; 0 means AAC-LC
	SampleRate int
	Channels   int
}

// Sample is one encoded access unit handed to the packager.
// Timestamps and duration are expressed in the track's timescale.
type Sample struct {
	DTS      uint64
	PTS      uint64
	Duration uint32
	Keyframe bool
	Payload  []byte
}

// Segment accumulates the samples of one in-progress media segment.
// A segment belongs to exactly one track; once closed it is serialized,
// stored and archived into the ledger, and its sample buffer is released.
type Segment struct {
	TrackID  string
	Sequence uint64
	// Start is the presentation timestamp of the first sample.
	Start uint64
	// BaseDecodeTime is the decode timestamp of the first sample; it anchors
	// the fragment's baseMediaDecodeTime so global timing stays continuous.
	BaseDecodeTime uint64
	// Duration is the sum of the constituent sample durations so far.
	Duration uint64

	samples []Sample
}

// append adds a sample to the open segment.
func (s *Segment) append(sm Sample) {
	s.samples = append(s.samples, sm)
	s.Duration += uint64(sm.Duration)
}

// Samples returns the buffered samples in the order they were appended.
func (s *Segment) Samples() []Sample {
	return s.samples
}

// LedgerEntry is the immutable record of one stored segment.
// It is written exactly once, after the segment's bytes are confirmed stored.
type LedgerEntry struct {
	TrackID   string
	Sequence  uint64
	Start     uint64
	Duration  uint64
	Size      int64
	Timescale uint32
}
