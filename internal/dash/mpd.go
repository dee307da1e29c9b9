// Package dash models the subset of the DASH MPD schema this packager
// produces: a single Period with one AdaptationSet per track kind, one
// Representation per track, and a SegmentTemplate with an explicit
// SegmentTimeline mirroring the segments actually written.
package dash

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Schema constants for the documents this packager emits.
const (
	Namespace   = "urn:mpeg:dash:schema:mpd:2011"
	ProfileLive = "urn:mpeg:dash:profile:isoff-live:2011"

	// AudioChannelConfigScheme is the MPEG scheme identifying the value of
	// an AudioChannelConfiguration element as a plain channel count.
	AudioChannelConfigScheme = "urn:mpeg:dash:23003:3:audio_channel_configuration:2011"

	// TypeDynamic marks a presentation that is still being extended.
	TypeDynamic = "dynamic"
	// TypeStatic marks a complete presentation.
	TypeStatic = "static"
)

// MPD is the root manifest document.
type MPD struct {
	XMLName                   xml.Name  `xml:"MPD"`
	XMLNS                     string    `xml:"xmlns,attr"`
	Profiles                  string    `xml:"profiles,attr"`
	Type                      string    `xml:"type,attr"`
	AvailabilityStartTime     string    `xml:"availabilityStartTime,attr,omitempty"`
	PublishTime               string    `xml:"publishTime,attr,omitempty"`
	MinimumUpdatePeriod       string    `xml:"minimumUpdatePeriod,attr,omitempty"`
	MediaPresentationDuration string    `xml:"mediaPresentationDuration,attr,omitempty"`
	MinBufferTime             string    `xml:"minBufferTime,attr"`
	Periods                   []*Period `xml:"Period"`
}

// Period groups the adaptation sets of one contiguous stretch of content.
type Period struct {
	ID             string           `xml:"id,attr,omitempty"`
	Start          string           `xml:"start,attr,omitempty"`
	AdaptationSets []*AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet groups the representations of one track kind.
type AdaptationSet struct {
	ContentType             string            `xml:"contentType,attr,omitempty"`
	MimeType                string            `xml:"mimeType,attr,omitempty"`
	SegmentAlignment        bool              `xml:"segmentAlignment,attr"`
	SubsegmentStartsWithSAP int               `xml:"subsegmentStartsWithSAP,attr,omitempty"`
	Representations         []*Representation `xml:"Representation"`
}

// Representation describes one encoded variant of a track.
type Representation struct {
	ID                 string                     `xml:"id,attr"`
	Codecs             string                     `xml:"codecs,attr,omitempty"`
	Bandwidth          uint64                     `xml:"bandwidth,attr"`
	Width              int                        `xml:"width,attr,omitempty"`
	Height             int                        `xml:"height,attr,omitempty"`
	FrameRate          string                     `xml:"frameRate,attr,omitempty"`
	AudioSamplingRate  int                        `xml:"audioSamplingRate,attr,omitempty"`
	AudioChannelConfig *AudioChannelConfiguration `xml:"AudioChannelConfiguration,omitempty"`
	SegmentTemplate    *SegmentTemplate           `xml:"SegmentTemplate,omitempty"`
}

// AudioChannelConfiguration advertises the channel layout of an audio
// Representation.
type AudioChannelConfiguration struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

// SegmentTemplate names the init and media files and carries the timeline.
type SegmentTemplate struct {
	Timescale       uint32           `xml:"timescale,attr,omitempty"`
	Initialization  string           `xml:"initialization,attr,omitempty"`
	Media           string           `xml:"media,attr,omitempty"`
	StartNumber     uint64           `xml:"startNumber,attr"`
	SegmentTimeline *SegmentTimeline `xml:"SegmentTimeline,omitempty"`
}

// SegmentTimeline lists the exact start and duration of every produced segment.
type SegmentTimeline struct {
	Segments []*S `xml:"S"`
}

// S is one timeline entry: start time t, duration d, and an optional repeat
// count r for runs of equal-duration segments.
type S struct {
	T *uint64 `xml:"t,attr,omitempty"`
	D uint64  `xml:"d,attr"`
	R *int    `xml:"r,attr,omitempty"`
}

// Encode serializes the document with the XML prolog.
func (m *MPD) Encode() ([]byte, error) {
	body, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal MPD: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// Uint64Ptr returns a pointer to v, for optional timeline attributes.
func Uint64Ptr(v uint64) *uint64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// ISODuration formats a duration as an ISO 8601 duration with millisecond
// precision, e.g. "PT2.000S" or "PT1M3.500S". Rounding happens before the
// units are split so a remainder of 59.9996 s carries into the minute field
// instead of formatting as 60 seconds.
func ISODuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Millisecond)

	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int64(d / time.Minute)
	d -= time.Duration(mins) * time.Minute

	out := "PT"
	if hours > 0 {
		out += fmt.Sprintf("%dH", hours)
	}
	if mins > 0 {
		out += fmt.Sprintf("%dM", mins)
	}
	out += fmt.Sprintf("%.3fS", d.Seconds())
	return out
}

// ISOTime formats the wall-clock attributes (availabilityStartTime,
// publishTime) as UTC per the DASH-IF interoperability guidance.
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
