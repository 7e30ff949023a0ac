package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/supabase"
	"nonlinear-editor-backend/internal/timeline"
)

func TestProjects_CreateAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)

	p, err := h.projects.Create(ctx, userID, "  Holiday cut  ")
	require.NoError(t, err)
	assert.Equal(t, "Holiday cut", p.Title)
	assert.JSONEq(t, `{"clips":[]}`, string(p.Timeline))

	list, err := h.projects.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
	assert.Equal(t, []models.AuditAction{models.AuditProjectCreate}, h.auditor.actions())
}

func TestProjects_CreateEnforcesTierLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)

	for i := 0; i < models.LimitsFor(models.TierFree).MaxProjects; i++ {
		h.newProject(t, userID)
	}
	_, err := h.projects.Create(ctx, userID, "One too many")
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)

	premium := h.newUser(models.TierPremium)
	for i := 0; i < 10; i++ {
		h.newProject(t, premium)
	}
}

func TestProjects_CreateRejectsBlankTitle(t *testing.T) {
	h := newHarness(t)
	_, err := h.projects.Create(context.Background(), h.newUser(models.TierFree), "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestProjects_ListIsCachedUntilChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierPremium)
	h.newProject(t, userID)

	first, err := h.projects.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A row written behind the service's back stays invisible until the
	// cached list is invalidated by a change made through the service.
	require.NoError(t, h.store.CreateProject(ctx, &models.Project{ID: uuid.New(), UserID: userID, Title: "direct"}, -1))
	cached, err := h.projects.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	h.newProject(t, userID)
	fresh, err := h.projects.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestProjects_GetChecksOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.newUser(models.TierFree)
	other := h.newUser(models.TierFree)
	p := h.newProject(t, owner)

	_, err := h.projects.Get(ctx, other, p.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = h.projects.Get(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := h.projects.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
}

func TestProjects_Rename(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)

	renamed, err := h.projects.Rename(ctx, userID, p.ID, "Final cut")
	require.NoError(t, err)
	assert.Equal(t, "Final cut", renamed.Title)

	got, err := h.projects.Get(ctx, userID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final cut", got.Title)
}

func addAsset(t *testing.T, h *harness, userID, projectID uuid.UUID, assetType models.AssetType, size int64) *models.Asset {
	t.Helper()
	a := &models.Asset{
		ID:        uuid.New(),
		UserID:    userID,
		ProjectID: projectID,
		Type:      assetType,
		Source:    models.AssetSourceUpload,
		Filename:  fmt.Sprintf("%s-%d", assetType, size),
		MimeType:  string(assetType) + "/test",
		FileSize:  size,
	}
	a.StoragePath = supabase.AssetPath(userID, projectID, a.ID, a.Filename)
	require.NoError(t, h.store.CreateAsset(context.Background(), a))
	require.NoError(t, h.objects.Upload(context.Background(), a.StoragePath, a.MimeType, bytes.NewReader(make([]byte, size))))
	return a
}

func timelineJSON(clips ...string) json.RawMessage {
	out := `{"clips":[`
	for i, c := range clips {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return json.RawMessage(out + `]}`)
}

func clipJSON(id string, assetID uuid.UUID, pos, length float64, track int) string {
	return fmt.Sprintf(`{"id":%q,"assetId":%q,"start":0,"end":%g,"timelinePosition":%g,"trackIndex":%d}`,
		id, assetID, length, pos, track)
}

func TestProjects_SaveTimeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)

	raw := timelineJSON(
		clipJSON("b", a.ID, 5, 5, 0),
		clipJSON("a", a.ID, 0, 5, 0),
	)
	tl, saved, err := h.projects.SaveTimeline(ctx, userID, p.ID, raw)
	require.NoError(t, err)
	require.Len(t, tl.Clips, 2)
	assert.Equal(t, "a", tl.Clips[0].ID, "clips are ordered by position")
	assert.Equal(t, 1.0, tl.Clips[0].Speed)
	assert.InDelta(t, 10.0, timeline.Duration(tl), 1e-9)

	got, err := h.projects.Get(ctx, userID, p.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(saved.Timeline), string(got.Timeline))
}

func TestProjects_SaveTimelineRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	other := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	own := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	otherProject := h.newProject(t, other)
	foreign := addAsset(t, h, other, otherProject.ID, models.AssetTypeVideo, 10)

	tests := []struct {
		name string
		raw  json.RawMessage
		want error
	}{
		{"malformed", json.RawMessage(`{"clips":`), models.ErrInvalidInput},
		{"end before start", json.RawMessage(`{"clips":[{"id":"a","start":5,"end":1,"timelinePosition":0,"trackIndex":0}]}`), models.ErrInvalidInput},
		{"overlap", timelineJSON(clipJSON("a", own.ID, 0, 5, 0), clipJSON("b", own.ID, 4, 5, 0)), models.ErrInvalidInput},
		{"bad asset id", json.RawMessage(`{"clips":[{"id":"a","assetId":"nope","start":0,"end":1,"timelinePosition":0,"trackIndex":0}]}`), models.ErrInvalidInput},
		{"missing asset", timelineJSON(clipJSON("a", uuid.New(), 0, 5, 0)), models.ErrNotFound},
		{"foreign asset", timelineJSON(clipJSON("a", foreign.ID, 0, 5, 0)), models.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Same positions on different tracks are fine.
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(clipJSON("a", own.ID, 0, 5, 0), clipJSON("b", own.ID, 0, 5, 1)))
	assert.NoError(t, err)
}

func TestProjects_MoveClip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(
		clipJSON("a", a.ID, 0, 5, 0),
		clipJSON("b", a.ID, 10, 5, 0),
	))
	require.NoError(t, err)

	res, err := h.projects.MoveClip(ctx, userID, p.ID, "b", models.MoveClipRequest{Position: 3, DisableSnap: true})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.Clip.TimelinePosition, 1e-9, "pushed past the clip it would overlap")
	assert.Equal(t, 0, res.Clip.TrackIndex)

	track := 1
	res, err = h.projects.MoveClip(ctx, userID, p.ID, "b", models.MoveClipRequest{Position: 3, TrackIndex: &track})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.Clip.TimelinePosition, 1e-9)
	assert.Equal(t, 1, res.Clip.TrackIndex)

	tl, _, err := h.projects.GetTimeline(ctx, userID, p.ID)
	require.NoError(t, err)
	b, ok := tl.Clip("b")
	require.True(t, ok)
	assert.Equal(t, 1, b.TrackIndex)
	assert.Empty(t, timeline.Overlapping(tl))

	_, err = h.projects.MoveClip(ctx, userID, p.ID, "missing", models.MoveClipRequest{Position: 1})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.projects.MoveClip(ctx, h.newUser(models.TierFree), p.ID, "a", models.MoveClipRequest{Position: 1})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestProjects_MoveClipReadsPastCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(clipJSON("a", a.ID, 0, 2, 0)))
	require.NoError(t, err)
	_, _, err = h.projects.GetTimeline(ctx, userID, p.ID)
	require.NoError(t, err)

	// Another instance saves a second clip; this instance's cache is stale.
	h.store.mu.Lock()
	h.store.projects[p.ID].Timeline = timelineJSON(clipJSON("a", a.ID, 0, 2, 0), clipJSON("c", a.ID, 20, 2, 0))
	h.store.projects[p.ID].UpdatedAt = h.store.projects[p.ID].UpdatedAt.Add(time.Minute)
	h.store.mu.Unlock()

	res, err := h.projects.MoveClip(ctx, userID, p.ID, "a", models.MoveClipRequest{Position: 4, DisableSnap: true})
	require.NoError(t, err)
	_, kept := res.Timeline.Clip("c")
	assert.True(t, kept, "the move builds on the stored timeline")
}

func TestProjects_MoveClipConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(clipJSON("a", a.ID, 0, 2, 0)))
	require.NoError(t, err)

	h.store.beforeTimelineWrite = func(p *models.Project) {
		p.UpdatedAt = p.UpdatedAt.Add(time.Minute)
	}
	_, err = h.projects.MoveClip(ctx, userID, p.ID, "a", models.MoveClipRequest{Position: 4})
	assert.ErrorIs(t, err, models.ErrConflict)

	h.store.beforeTimelineWrite = nil
	_, err = h.projects.MoveClip(ctx, userID, p.ID, "a", models.MoveClipRequest{Position: 4, DisableSnap: true})
	require.NoError(t, err)
}

func TestProjects_AddClip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(clipJSON("a", a.ID, 0, 5, 0)))
	require.NoError(t, err)

	res, err := h.projects.AddClip(ctx, userID, p.ID, models.AddClipRequest{
		AssetID: a.ID.String(), Start: 0, End: 3, Position: 2, DisableSnap: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Clip.ID)
	assert.InDelta(t, 5.0, res.Clip.TimelinePosition, 1e-9, "placed after the clip it would overlap")
	assert.Equal(t, a.MimeType, res.Clip.Mime)
	assert.Len(t, res.Timeline.Clips, 2)
	assert.Empty(t, timeline.Overlapping(res.Timeline))

	other := h.newProject(t, userID)
	_, err = h.projects.AddClip(ctx, userID, other.ID, models.AddClipRequest{AssetID: a.ID.String(), End: 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	stranger := h.newUser(models.TierFree)
	_, err = h.projects.AddClip(ctx, stranger, p.ID, models.AddClipRequest{AssetID: a.ID.String(), End: 1})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = h.projects.AddClip(ctx, userID, p.ID, models.AddClipRequest{AssetID: uuid.NewString(), End: 1})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProjects_SplitAndRemoveClip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(clipJSON("a", a.ID, 0, 4, 0)))
	require.NoError(t, err)

	res, err := h.projects.SplitClip(ctx, userID, p.ID, "a", 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, res.Clip.TimelinePosition, 1e-9)
	assert.Len(t, res.Timeline.Clips, 2)

	_, err = h.projects.SplitClip(ctx, userID, p.ID, "a", math.NaN())
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	tl, _, err := h.projects.RemoveClip(ctx, userID, p.ID, res.Clip.ID)
	require.NoError(t, err)
	assert.Len(t, tl.Clips, 1)

	_, _, err = h.projects.RemoveClip(ctx, userID, p.ID, res.Clip.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	stored, _, err := h.projects.GetTimeline(ctx, userID, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Clips, 1)
}

func TestProjects_MoveClipSnapsToPlayhead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	a := addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, _, err := h.projects.SaveTimeline(ctx, userID, p.ID, timelineJSON(clipJSON("a", a.ID, 0, 2, 0)))
	require.NoError(t, err)

	playhead := 7.33
	res, err := h.projects.MoveClip(ctx, userID, p.ID, "a", models.MoveClipRequest{Position: 7.3, Playhead: &playhead})
	require.NoError(t, err)
	assert.InDelta(t, 7.33, res.Clip.TimelinePosition, 1e-9)
}

func TestProjects_Delete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	keep := h.newProject(t, userID)
	addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 100)
	addAsset(t, h, userID, p.ID, models.AssetTypeAudio, 50)
	kept := addAsset(t, h, userID, keep.ID, models.AssetTypeImage, 5)
	require.NoError(t, h.store.AddStorageBytes(ctx, userID, 155))

	require.NoError(t, h.projects.Delete(ctx, userID, p.ID))

	_, err := h.projects.Get(ctx, userID, p.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, h.objects.count())
	assert.True(t, h.objects.has(kept.StoragePath))
	assert.Equal(t, int64(5), h.store.profile(userID).StorageBytesUsed)
	assert.Equal(t, models.AuditProjectDelete, h.auditor.last().Action)

	list, err := h.projects.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProjects_DeleteSurvivesStorageFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	h.objects.deleteErr = fmt.Errorf("storage down")

	require.NoError(t, h.projects.Delete(ctx, userID, p.ID))
	_, err := h.store.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProjects_DeleteForbiddenForOthers(t *testing.T) {
	h := newHarness(t)
	owner := h.newUser(models.TierFree)
	p := h.newProject(t, owner)

	err := h.projects.Delete(context.Background(), h.newUser(models.TierFree), p.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestProjects_Bundle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(models.TierFree)
	p := h.newProject(t, userID)
	addAsset(t, h, userID, p.ID, models.AssetTypeVideo, 10)
	_, err := h.generation.Start(ctx, userID, p.ID, models.JobKindImage, models.GenerateRequest{Prompt: "a red fox"})
	require.NoError(t, err)

	b, err := h.projects.Bundle(ctx, userID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID.String(), b.Project.ID)
	assert.NotEmpty(t, b.Project.Timeline)
	assert.Len(t, b.Assets, 1)
	assert.Len(t, b.Jobs, 1)
}
