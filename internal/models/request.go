package models

type CreateProjectRequest struct {
	Title string `json:"title" binding:"required,min=1,max=200" example:"Summer trip"`
}

type UpdateProjectRequest struct {
	Title string `json:"title" binding:"required,min=1,max=200"`
}

type MoveClipRequest struct {
	// Position is the desired timeline position in seconds before snapping.
	Position    float64  `json:"position" binding:"gte=0"`
	TrackIndex  *int     `json:"track_index,omitempty" binding:"omitempty,gte=0"`
	Playhead    *float64 `json:"playhead,omitempty" binding:"omitempty,gte=0"`
	DisableSnap bool     `json:"disable_snap,omitempty"`
}

type AddClipRequest struct {
	AssetID string `json:"asset_id" binding:"required,uuid"`
	// Start and End trim the source media, in seconds.
	Start       float64  `json:"start" binding:"gte=0"`
	End         float64  `json:"end" binding:"gtfield=Start"`
	Position    float64  `json:"position" binding:"gte=0"`
	TrackIndex  int      `json:"track_index" binding:"gte=0"`
	Playhead    *float64 `json:"playhead,omitempty" binding:"omitempty,gte=0"`
	DisableSnap bool     `json:"disable_snap,omitempty"`
}

type SplitClipRequest struct {
	// At is the timeline time of the cut, in seconds.
	At float64 `json:"at" binding:"gte=0"`
}

type GenerateRequest struct {
	Prompt          string `json:"prompt" binding:"required,max=2000"`
	NegativePrompt  string `json:"negative_prompt,omitempty" binding:"max=2000"`
	Model           string `json:"model,omitempty" binding:"max=100"`
	AspectRatio     string `json:"aspect_ratio,omitempty" binding:"omitempty,oneof=16:9 9:16 1:1 4:3"`
	DurationSeconds int    `json:"duration_seconds,omitempty" binding:"omitempty,min=1,max=60"`
	Voice           string `json:"voice,omitempty" binding:"max=100"`
	Seed            *int64 `json:"seed,omitempty"`
	// ImageAssetID seeds image-to-video generation with an existing image asset.
	ImageAssetID string `json:"image_asset_id,omitempty" binding:"omitempty,uuid"`
}

type SetTierRequest struct {
	Tier string `json:"tier" binding:"required,oneof=free premium admin"`
}
