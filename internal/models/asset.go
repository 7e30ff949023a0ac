package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AssetType string

const (
	AssetTypeVideo AssetType = "video"
	AssetTypeAudio AssetType = "audio"
	AssetTypeImage AssetType = "image"
)

func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeVideo, AssetTypeAudio, AssetTypeImage:
		return true
	}
	return false
}

type AssetSource string

const (
	AssetSourceUpload    AssetSource = "upload"
	AssetSourceGenerated AssetSource = "generated"
)

type Asset struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ProjectID   uuid.UUID
	Type        AssetType
	Source      AssetSource
	Filename    string
	StoragePath string
	StorageURL  string
	MimeType    string
	FileSize    int64
	Metadata    json.RawMessage
	CreatedAt   time.Time
}
