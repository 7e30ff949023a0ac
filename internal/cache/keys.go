package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ProfileTTL     = 5 * time.Minute
	ProjectTTL     = 2 * time.Minute
	ProjectListTTL = time.Minute
	AssetListTTL   = time.Minute
)

// UserPrefix covers every key scoped to a user.
func UserPrefix(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:", userID)
}

func ProfileKey(userID uuid.UUID) string {
	return UserPrefix(userID) + "profile"
}

func ProjectListKey(userID uuid.UUID) string {
	return UserPrefix(userID) + "projects"
}

func ProjectKey(userID, projectID uuid.UUID) string {
	return fmt.Sprintf("%sproject:%s", UserPrefix(userID), projectID)
}

func AssetListKey(userID, projectID uuid.UUID) string {
	return fmt.Sprintf("%sproject:%s:assets", UserPrefix(userID), projectID)
}
