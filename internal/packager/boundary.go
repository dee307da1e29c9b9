package packager

// BoundaryDecision is the outcome of inspecting one incoming sample against
// a track's open segment.
type BoundaryDecision int

const (
	// KeepOpen appends the incoming sample to the current segment.
	KeepOpen BoundaryDecision = iota
	// CloseAndStartNew closes the current segment; the incoming sample
	// becomes the first sample of the next one.
	CloseAndStartNew
)

// BoundaryDecider decides when a track's open segment must close.
//
// A segment closes once its accumulated duration has reached the target and,
// for video tracks, the incoming sample is a keyframe so the next segment
// starts independently decodable. Samples are never split: the incoming
// sample goes whole into whichever segment the decision selects, so segments
// round up past the target rather than ever being fractional or empty.
type BoundaryDecider struct {
	kind TrackKind
	// target is the nominal segment duration in track timescale ticks.
	target uint64
	// fallbackMax bounds a video segment that never sees a keyframe.
	fallbackMax uint64
}

// NewBoundaryDecider returns a decider for a track of the given kind.
// target and fallbackMax are in track timescale ticks; fallbackMax only
// applies to video tracks.
func NewBoundaryDecider(kind TrackKind, target, fallbackMax uint64) *BoundaryDecider {
	return &BoundaryDecider{kind: kind, target: target, fallbackMax: fallbackMax}
}

// Decide returns the boundary decision for the incoming sample given the
// open segment's accumulated duration and sample count. missedKeyframe is
// true when a video segment had to be force-closed because no keyframe
// arrived within the fallback maximum; callers report it as a stream anomaly.
func (d *BoundaryDecider) Decide(accumulated uint64, sampleCount int, next Sample) (decision BoundaryDecision, missedKeyframe bool) {
	// The very first sample always starts a segment.
	if sampleCount == 0 {
		return KeepOpen, false
	}

	if d.kind != TrackKindVideo {
		if accumulated >= d.target {
			return CloseAndStartNew, false
		}
		return KeepOpen, false
	}

	if accumulated >= d.target && next.Keyframe {
		return CloseAndStartNew, false
	}

	// No keyframe within the bounded window: force the close to cap memory.
	if d.fallbackMax > 0 && accumulated >= d.fallbackMax {
		return CloseAndStartNew, true
	}

	return KeepOpen, false
}
