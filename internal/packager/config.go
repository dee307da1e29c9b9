package packager

import "time"

// Defaults for the policy knobs. Target duration and the output naming
// templates follow the defaults of the sink element this packager replaces.
const (
	DefaultTargetDuration     = 10 * time.Second
	DefaultAlignmentTolerance = 500 * time.Millisecond
	DefaultStorageRetries     = 3
	DefaultManifestLocation   = "manifest.mpd"
	DefaultInitLocation       = "init.cmfi"
	DefaultSegmentLocation    = "segment_%d.cmfv"
)

// Config holds the packaging policy. The zero value is usable: every field
// falls back to a documented default.
type Config struct {
	// TargetDuration is the nominal length of each produced segment.
	TargetDuration time.Duration

	// AlignmentTolerance is how far apart same-sequence segment start times
	// across tracks may drift before a warning is reported.
	AlignmentTolerance time.Duration

	// KeyframeFallbackMax caps a video segment waiting for a keyframe.
	// Zero means 3x the target duration.
	KeyframeFallbackMax time.Duration

	// RefreshPeriod is how often the manifest is republished even when no
	// new segment arrived. Zero means half the target duration.
	RefreshPeriod time.Duration

	// StorageRetries is how many times a failed segment write is retried
	// before the failure is treated as fatal for the track.
	StorageRetries int

	// StartNumber is the sequence number of the first segment of each track.
	StartNumber uint64

	// ManifestLocation is the identifier the manifest is written under.
	ManifestLocation string

	// InitLocation is the per-track init segment name; the final identifier
	// is "{trackID}_{InitLocation}".
	InitLocation string

	// SegmentLocation is the per-track media segment name template with a
	// %d verb for the sequence number; the final identifier is
	// "{trackID}_{SegmentLocation % sequence}".
	SegmentLocation string

	// AvailabilityStart is the manifest availabilityStartTime origin.
	// Zero means the wall-clock time the packager starts.
	AvailabilityStart time.Time

	// MinBufferTime is the manifest minBufferTime. Zero means the target
	// duration.
	MinBufferTime time.Duration
}

// withDefaults returns a copy of c with every unset field resolved.
func (c Config) withDefaults() Config {
	if c.TargetDuration <= 0 {
		c.TargetDuration = DefaultTargetDuration
	}
	if c.AlignmentTolerance <= 0 {
		c.AlignmentTolerance = DefaultAlignmentTolerance
	}
	if c.KeyframeFallbackMax <= 0 {
		c.KeyframeFallbackMax = 3 * c.TargetDuration
	}
	if c.RefreshPeriod <= 0 {
		c.RefreshPeriod = c.TargetDuration / 2
	}
	if c.StorageRetries <= 0 {
		c.StorageRetries = DefaultStorageRetries
	}
	if c.ManifestLocation == "" {
		c.ManifestLocation = DefaultManifestLocation
	}
	if c.InitLocation == "" {
		c.InitLocation = DefaultInitLocation
	}
	if c.SegmentLocation == "" {
		c.SegmentLocation = DefaultSegmentLocation
	}
	if c.MinBufferTime <= 0 {
		c.MinBufferTime = c.TargetDuration
	}
	return c
}

// ticks converts a wall-clock duration to ticks in the given timescale.
func ticks(d time.Duration, timescale uint32) uint64 {
	return uint64(d) * uint64(timescale) / uint64(time.Second)
}

// seconds converts ticks in the given timescale to a wall-clock duration.
// Whole seconds are split off before scaling so tick counts from multi-day
// live sessions do not overflow the intermediate product.
func seconds(t uint64, timescale uint32) time.Duration {
	if timescale == 0 {
		return 0
	}
	whole := t / uint64(timescale)
	rem := t % uint64(timescale)
	return time.Duration(whole)*time.Second +
		time.Duration(rem)*time.Second/time.Duration(timescale)
}
