package timeline

import (
	"fmt"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

// AddClip appends c and places it at the nearest free position to
// c.TimelinePosition on its track. A missing id is generated.
func AddClip(t *Timeline, c Clip, opts SnapOptions) (*Clip, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := t.Clip(c.ID); exists {
		return nil, fmt.Errorf("%w: clip %q already exists", models.ErrConflict, c.ID)
	}
	if err := validateClip(c); err != nil {
		return nil, err
	}
	t.Clips = append(t.Clips, c)
	pos, err := SafePosition(t, c.ID, c.TimelinePosition, c.TrackIndex, opts)
	if err != nil {
		t.Clips = t.Clips[:len(t.Clips)-1]
		return nil, err
	}
	added, _ := t.Clip(c.ID)
	added.TimelinePosition = pos
	return added, nil
}

// MoveClip relocates clipID to the safe position nearest desired on track.
func MoveClip(t *Timeline, clipID string, desired float64, track int, opts SnapOptions) (float64, error) {
	pos, err := SafePosition(t, clipID, desired, track, opts)
	if err != nil {
		return 0, err
	}
	c, _ := t.Clip(clipID)
	c.TimelinePosition = pos
	c.TrackIndex = track
	return pos, nil
}

func RemoveClip(t *Timeline, clipID string) error {
	for i := range t.Clips {
		if t.Clips[i].ID == clipID {
			t.Clips = append(t.Clips[:i], t.Clips[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: clip %q", models.ErrNotFound, clipID)
}

// SplitClip cuts clipID at timeline time at and returns the new right-hand
// piece. Each piece must be at least MinClipDuration long. Fade-out and the
// outgoing transition move to the right-hand piece.
func SplitClip(t *Timeline, clipID string, at float64) (*Clip, error) {
	left, ok := t.Clip(clipID)
	if !ok {
		return nil, fmt.Errorf("%w: clip %q", models.ErrNotFound, clipID)
	}
	start, end := left.TimelinePosition, ClipEnd(*left)
	if !finite(at) || at-start < MinClipDuration || end-at < MinClipDuration {
		return nil, fmt.Errorf("%w: split point must fall inside the clip", models.ErrInvalidInput)
	}

	sourceCut := left.Start + (at-start)*effectiveSpeed(left.Speed)

	right := *left
	right.ID = uuid.NewString()
	right.Start = sourceCut
	right.TimelinePosition = at
	right.FadeIn = 0

	left.End = sourceCut
	left.FadeOut = 0
	left.Transition = nil
	if left.FadeIn > ClipDuration(*left) {
		left.FadeIn = ClipDuration(*left)
	}
	if right.FadeOut > ClipDuration(right) {
		right.FadeOut = ClipDuration(right)
	}

	t.Clips = append(t.Clips, right)
	return &t.Clips[len(t.Clips)-1], nil
}
