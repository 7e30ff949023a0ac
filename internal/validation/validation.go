// Package validation holds the input checks applied at the API boundary.
package validation

import (
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

const (
	MaxTitleLength    = 200
	MaxPromptLength   = 2000
	MaxFilenameLength = 120
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the project's custom tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
			return models.Tier(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("asset_type", func(fl validator.FieldLevel) bool {
			return models.AssetType(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("job_kind", func(fl validator.FieldLevel) bool {
			return models.JobKind(fl.Field().String()).Valid()
		})
	})
	return validate
}

// Struct validates v using `validate` tags.
func Struct(v interface{}) error {
	if err := Validator().Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", models.ErrInvalidInput, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// ParseUUID parses s and reports failures against the named field.
func ParseUUID(field, s string) (uuid.UUID, error) {
	if !IsUUID(s) {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", models.ErrInvalidInput, field)
	}
	return uuid.MustParse(s), nil
}

// OneOf reports whether value is one of allowed.
func OneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func Title(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if len([]rune(s)) > MaxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", models.ErrInvalidInput, MaxTitleLength)
	}
	return s, nil
}

func Prompt(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: prompt is required", models.ErrInvalidInput)
	}
	if len([]rune(s)) > MaxPromptLength {
		return "", fmt.Errorf("%w: prompt exceeds %d characters", models.ErrInvalidInput, MaxPromptLength)
	}
	return s, nil
}

// URL accepts absolute http and https URLs only.
func URL(s string) error {
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: invalid url", models.ErrInvalidInput)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", models.ErrInvalidInput)
	}
	return nil
}

// AssetTypeFromMime maps a content type to an asset type.
func AssetTypeFromMime(contentType string) (models.AssetType, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: invalid content type %q", models.ErrInvalidInput, contentType)
	}
	switch {
	case strings.HasPrefix(mediaType, "video/"):
		return models.AssetTypeVideo, nil
	case strings.HasPrefix(mediaType, "audio/"):
		return models.AssetTypeAudio, nil
	case strings.HasPrefix(mediaType, "image/"):
		return models.AssetTypeImage, nil
	}
	return "", fmt.Errorf("%w: unsupported content type %q", models.ErrInvalidInput, mediaType)
}

// SanitizeFilename strips directories and anything outside [A-Za-z0-9._-].
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "file"
	}
	if len(out) > MaxFilenameLength {
		ext := filepath.Ext(out)
		if len(ext) > 10 {
			ext = ""
		}
		out = out[:MaxFilenameLength-len(ext)] + ext
	}
	return out
}
