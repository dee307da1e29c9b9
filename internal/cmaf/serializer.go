// Package cmaf implements the packager's container serializer on top of
// mp4ff, producing CMAF-conformant fragmented-MP4 init and media segments.
package cmaf

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/mp4"

	"dash-packager/internal/packager"
)

// Each track is packaged into its own single-track container, so the track
// ID inside every init/media segment is always 1.
const containerTrackID = 1

// Serializer builds fragmented-MP4 bytes from track descriptors and sample
// runs. It is stateless and safe for concurrent use across tracks.
type Serializer struct{}

// New returns a CMAF serializer.
func New() *Serializer {
	return &Serializer{}
}

// SerializeInit produces the init segment (ftyp + moov) for a track: the
// codec setup shared by all of its media segments.
func (s *Serializer) SerializeInit(desc packager.TrackDescriptor) ([]byte, error) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(desc.Timescale, string(desc.Kind), "und")
	trak := init.Moov.Trak

	switch desc.Kind {
	case packager.TrackKindVideo:
		if len(desc.SPS) == 0 || len(desc.PPS) == 0 {
			return nil, fmt.Errorf("track %s: video descriptor without SPS/PPS", desc.ID)
		}
		if err := trak.SetAVCDescriptor("avc1", desc.SPS, desc.PPS, true); err != nil {
			return nil, fmt.Errorf("track %s: set AVC descriptor: %w", desc.ID, err)
		}
	case packager.TrackKindAudio:
		objType := desc.ObjectType
		if objType == 0 {
			objType = aac.AAClc
		}
		if desc.SampleRate <= 0 {
			return nil, fmt.Errorf("track %s: audio descriptor without sample rate", desc.ID)
		}
		if err := trak.SetAACDescriptor(objType, desc.SampleRate); err != nil {
			return nil, fmt.Errorf("track %s: set AAC descriptor: %w", desc.ID, err)
		}
	default:
		return nil, fmt.Errorf("track %s: unsupported kind %q", desc.ID, desc.Kind)
	}

	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return nil, fmt.Errorf("track %s: encode init segment: %w", desc.ID, err)
	}
	return buf.Bytes(), nil
}

// Serialize produces one media segment (moof + mdat) from the ordered sample
// run. baseTime anchors the fragment's baseMediaDecodeTime: decode times are
// laid out from it by accumulating sample durations, so timing stays
// continuous across segment boundaries.
func (s *Serializer) Serialize(desc packager.TrackDescriptor, samples []packager.Sample, sequence uint64, baseTime uint64) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("track %s: empty segment %d", desc.ID, sequence)
	}

	frag, err := mp4.CreateFragment(uint32(sequence), containerTrackID)
	if err != nil {
		return nil, fmt.Errorf("track %s: create fragment %d: %w", desc.ID, sequence, err)
	}

	decodeTime := baseTime
	for _, sm := range samples {
		flags := mp4.NonSyncSampleFlags
		if sm.Keyframe {
			flags = mp4.SyncSampleFlags
		}
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags:                 flags,
				Dur:                   sm.Duration,
				Size:                  uint32(len(sm.Payload)),
				CompositionTimeOffset: int32(int64(sm.PTS) - int64(sm.DTS)),
			},
			DecodeTime: decodeTime,
			Data:       sm.Payload,
		})
		decodeTime += uint64(sm.Duration)
	}

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("track %s: encode segment %d: %w", desc.ID, sequence, err)
	}
	return buf.Bytes(), nil
}
