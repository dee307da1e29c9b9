package dash

import (
	"strings"
	"testing"
	"time"
)

func TestISODuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "PT0.000S"},
		{-time.Second, "PT0.000S"},
		{10 * time.Second, "PT10.000S"},
		{2500 * time.Millisecond, "PT2.500S"},
		{63500 * time.Millisecond, "PT1M3.500S"},
		{time.Hour + 2*time.Minute + 3*time.Second, "PT1H2M3.000S"},
		{10666667 * time.Microsecond, "PT10.667S"},
		// A sub-millisecond remainder carries into the next unit.
		{59*time.Second + 999600*time.Microsecond, "PT1M0.000S"},
		{119*time.Second + 999600*time.Microsecond, "PT2M0.000S"},
		{59*time.Minute + 59*time.Second + 999600*time.Microsecond, "PT1H0.000S"},
	}
	for _, tt := range tests {
		if got := ISODuration(tt.in); got != tt.want {
			t.Errorf("ISODuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestISOTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2026, 3, 1, 13, 0, 30, 250_000_000, loc)
	if got := ISOTime(in); got != "2026-03-01T12:00:30.250Z" {
		t.Errorf("ISOTime = %q", got)
	}
}

func TestMPD_encode(t *testing.T) {
	doc := &MPD{
		XMLNS:                 Namespace,
		Profiles:              ProfileLive,
		Type:                  TypeDynamic,
		AvailabilityStartTime: "2026-03-01T12:00:00.000Z",
		MinBufferTime:         "PT10.000S",
		Periods: []*Period{{
			ID:    "0",
			Start: "PT0.000S",
			AdaptationSets: []*AdaptationSet{{
				ContentType:             "video",
				MimeType:                "video/mp4",
				SegmentAlignment:        true,
				SubsegmentStartsWithSAP: 1,
				Representations: []*Representation{{
					ID:        "video",
					Codecs:    "avc1.64001e",
					Bandwidth: 4_000_000,
					Width:     1920,
					Height:    1080,
					SegmentTemplate: &SegmentTemplate{
						Timescale:      90000,
						Initialization: "video_init.cmfi",
						Media:          "video_segment_$Number$.cmfv",
						SegmentTimeline: &SegmentTimeline{Segments: []*S{
							{T: Uint64Ptr(0), D: 900000, R: IntPtr(2)},
							{D: 720000},
						}},
					},
				}},
			}},
		}},
	}

	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := string(data)

	if !strings.HasPrefix(out, "<?xml") {
		t.Errorf("missing XML prolog:\n%s", out)
	}
	for _, want := range []string{
		`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011"`,
		`type="dynamic"`,
		`<Period id="0" start="PT0.000S">`,
		`segmentAlignment="true"`,
		`<S t="0" d="900000" r="2">`,
		`<S d="720000">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("encoded MPD missing %s:\n%s", want, out)
		}
	}

	// Optional attributes with zero values stay out entirely.
	for _, absent := range []string{"publishTime", "minimumUpdatePeriod", "mediaPresentationDuration", "frameRate", "audioSamplingRate"} {
		if strings.Contains(out, absent) {
			t.Errorf("encoded MPD should omit %s:\n%s", absent, out)
		}
	}
}
