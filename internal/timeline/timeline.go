// Package timeline models the editor's timeline document and the arithmetic
// the server applies to it: clip durations, snapping and overlap avoidance.
//
// The document is stored as a JSON blob on the project row. Field names
// follow the browser editor's camelCase shape so the blob round-trips
// unchanged.
package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"nonlinear-editor-backend/internal/models"
)

const (
	SnapInterval  = 0.1
	SnapThreshold = 0.1
	MaxTracks     = 10
	MaxClips      = 2000
	MaxSpeed      = 16.0
	MaxVolume     = 2.0

	// MinClipDuration is the shortest piece a split may leave behind.
	MinClipDuration = 0.05

	epsilon = 1e-9
)

type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

type Clip struct {
	ID               string      `json:"id"`
	AssetID          string      `json:"assetId"`
	Mime             string      `json:"mime,omitempty"`
	Start            float64     `json:"start"`
	End              float64     `json:"end"`
	SourceDuration   float64     `json:"sourceDuration,omitempty"`
	TimelinePosition float64     `json:"timelinePosition"`
	TrackIndex       int         `json:"trackIndex"`
	Speed            float64     `json:"speed,omitempty"`
	Volume           *float64    `json:"volume,omitempty"`
	Muted            bool        `json:"muted,omitempty"`
	Opacity          *float64    `json:"opacity,omitempty"`
	FadeIn           float64     `json:"fadeIn,omitempty"`
	FadeOut          float64     `json:"fadeOut,omitempty"`
	Transition       *Transition `json:"transitionToNext,omitempty"`
}

type TextOverlay struct {
	ID               string  `json:"id"`
	Text             string  `json:"text"`
	TimelinePosition float64 `json:"timelinePosition"`
	Duration         float64 `json:"duration"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
}

type Output struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Format string `json:"format,omitempty"`
}

type Timeline struct {
	Clips        []Clip        `json:"clips"`
	TextOverlays []TextOverlay `json:"textOverlays,omitempty"`
	Output       *Output       `json:"output,omitempty"`
}

// Empty returns a timeline with no clips.
func Empty() *Timeline {
	return &Timeline{Clips: []Clip{}}
}

// Parse decodes a stored timeline. An empty or null document is an empty timeline.
func Parse(raw json.RawMessage) (*Timeline, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Empty(), nil
	}
	var t Timeline
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: timeline is not valid JSON: %v", models.ErrInvalidInput, err)
	}
	if t.Clips == nil {
		t.Clips = []Clip{}
	}
	return &t, nil
}

func (t *Timeline) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timeline: %w", err)
	}
	return data, nil
}

// Clip returns a pointer into t.Clips so callers can edit in place.
func (t *Timeline) Clip(id string) (*Clip, bool) {
	for i := range t.Clips {
		if t.Clips[i].ID == id {
			return &t.Clips[i], true
		}
	}
	return nil, false
}

func effectiveSpeed(speed float64) float64 {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 1
	}
	return speed
}

// ClipDuration is the time the clip occupies on the timeline.
func ClipDuration(c Clip) float64 {
	d := (c.End - c.Start) / effectiveSpeed(c.Speed)
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}

// ClipEnd is the timeline position where the clip stops playing.
func ClipEnd(c Clip) float64 {
	return c.TimelinePosition + ClipDuration(c)
}

// Duration is the end of the last clip or overlay, or 0 for an empty timeline.
func Duration(t *Timeline) float64 {
	if t == nil {
		return 0
	}
	var d float64
	for _, c := range t.Clips {
		d = math.Max(d, ClipEnd(c))
	}
	for _, o := range t.TextOverlays {
		d = math.Max(d, o.TimelinePosition+math.Max(0, o.Duration))
	}
	return d
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching edges do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd float64) bool {
	return aStart < bEnd-epsilon && bStart < aEnd-epsilon
}

// Overlapping returns the ids of clip pairs that share a track and overlap.
func Overlapping(t *Timeline) [][2]string {
	var pairs [][2]string
	for i := 0; i < len(t.Clips); i++ {
		a := t.Clips[i]
		for j := i + 1; j < len(t.Clips); j++ {
			b := t.Clips[j]
			if a.TrackIndex != b.TrackIndex {
				continue
			}
			if Overlaps(a.TimelinePosition, ClipEnd(a), b.TimelinePosition, ClipEnd(b)) {
				pairs = append(pairs, [2]string{a.ID, b.ID})
			}
		}
	}
	return pairs
}

// Normalize fills defaults and orders clips by track, then position.
func Normalize(t *Timeline) {
	if t.Clips == nil {
		t.Clips = []Clip{}
	}
	for i := range t.Clips {
		c := &t.Clips[i]
		if c.Speed <= 0 {
			c.Speed = 1
		}
		if c.Volume == nil {
			v := 1.0
			c.Volume = &v
		}
		if c.Opacity == nil {
			o := 1.0
			c.Opacity = &o
		}
	}
	sort.SliceStable(t.Clips, func(i, j int) bool {
		a, b := t.Clips[i], t.Clips[j]
		if a.TrackIndex != b.TrackIndex {
			return a.TrackIndex < b.TrackIndex
		}
		if a.TimelinePosition != b.TimelinePosition {
			return a.TimelinePosition < b.TimelinePosition
		}
		return a.ID < b.ID
	})
}

// Validate checks structural rules on every clip and overlay. Overlaps are
// reported separately by Overlapping.
func Validate(t *Timeline) error {
	if t == nil {
		return fmt.Errorf("%w: timeline is required", models.ErrInvalidInput)
	}
	if len(t.Clips) > MaxClips {
		return fmt.Errorf("%w: timeline has %d clips, limit is %d", models.ErrInvalidInput, len(t.Clips), MaxClips)
	}
	seen := make(map[string]struct{}, len(t.Clips))
	for _, c := range t.Clips {
		if err := validateClip(c); err != nil {
			return err
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate clip id %q", models.ErrInvalidInput, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	for _, o := range t.TextOverlays {
		if o.ID == "" {
			return fmt.Errorf("%w: text overlay id is required", models.ErrInvalidInput)
		}
		if !finite(o.TimelinePosition) || o.TimelinePosition < 0 {
			return fmt.Errorf("%w: text overlay %q has a negative position", models.ErrInvalidInput, o.ID)
		}
		if !finite(o.Duration) || o.Duration <= 0 {
			return fmt.Errorf("%w: text overlay %q must have a positive duration", models.ErrInvalidInput, o.ID)
		}
	}
	if t.Output != nil {
		if t.Output.Width <= 0 || t.Output.Height <= 0 {
			return fmt.Errorf("%w: output dimensions must be positive", models.ErrInvalidInput)
		}
		if t.Output.FPS <= 0 || t.Output.FPS > 120 {
			return fmt.Errorf("%w: output fps must be between 1 and 120", models.ErrInvalidInput)
		}
	}
	return nil
}

func validateClip(c Clip) error {
	if c.ID == "" {
		return fmt.Errorf("%w: clip id is required", models.ErrInvalidInput)
	}
	for name, v := range map[string]float64{
		"start": c.Start, "end": c.End, "timelinePosition": c.TimelinePosition,
		"fadeIn": c.FadeIn, "fadeOut": c.FadeOut,
	} {
		if !finite(v) || v < 0 {
			return fmt.Errorf("%w: clip %q has invalid %s", models.ErrInvalidInput, c.ID, name)
		}
	}
	if c.End <= c.Start {
		return fmt.Errorf("%w: clip %q must end after it starts", models.ErrInvalidInput, c.ID)
	}
	if c.SourceDuration > 0 && c.End > c.SourceDuration+epsilon {
		return fmt.Errorf("%w: clip %q ends past its source", models.ErrInvalidInput, c.ID)
	}
	if c.TrackIndex < 0 || c.TrackIndex >= MaxTracks {
		return fmt.Errorf("%w: clip %q track must be between 0 and %d", models.ErrInvalidInput, c.ID, MaxTracks-1)
	}
	if c.Speed != 0 && (!finite(c.Speed) || c.Speed < 0 || c.Speed > MaxSpeed) {
		return fmt.Errorf("%w: clip %q speed out of range", models.ErrInvalidInput, c.ID)
	}
	if c.Volume != nil && (*c.Volume < 0 || *c.Volume > MaxVolume) {
		return fmt.Errorf("%w: clip %q volume must be between 0 and %.0f", models.ErrInvalidInput, c.ID, MaxVolume)
	}
	if c.Opacity != nil && (*c.Opacity < 0 || *c.Opacity > 1) {
		return fmt.Errorf("%w: clip %q opacity must be between 0 and 1", models.ErrInvalidInput, c.ID)
	}
	if c.FadeIn+c.FadeOut > ClipDuration(c)+epsilon {
		return fmt.Errorf("%w: clip %q fades are longer than the clip", models.ErrInvalidInput, c.ID)
	}
	if c.Transition != nil && (c.Transition.Duration < 0 || c.Transition.Duration > ClipDuration(c)) {
		return fmt.Errorf("%w: clip %q transition duration out of range", models.ErrInvalidInput, c.ID)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
