package supabase

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

const listPageSize = 1000

type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) *StorageClient {
	baseURL := strings.TrimRight(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

// ProjectPrefix is the folder holding every object of a project.
func ProjectPrefix(userID, projectID uuid.UUID) string {
	return fmt.Sprintf("users/%s/projects/%s/", userID, projectID)
}

// UserPrefix is the folder holding every object of a user.
func UserPrefix(userID uuid.UUID) string {
	return fmt.Sprintf("users/%s/", userID)
}

// AssetPath builds users/{user}/projects/{project}/{asset}-{filename}.
func AssetPath(userID, projectID, assetID uuid.UUID, filename string) string {
	return ProjectPrefix(userID, projectID) + assetID.String() + "-" + path.Base(filename)
}

// Upload streams body into the bucket. Existing objects are not replaced.
func (s *StorageClient) Upload(ctx context.Context, storagePath, contentType string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := false
	_, err := s.client.UploadFile(s.bucket, storagePath, body, storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

func (s *StorageClient) Delete(ctx context.Context, storagePaths ...string) error {
	if len(storagePaths) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, storagePaths); err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

// DeletePrefix removes every object directly under prefix and returns how
// many were removed.
func (s *StorageClient) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		files, err := s.client.ListFiles(s.bucket, prefix, storage.FileSearchOptions{
			Limit: listPageSize,
		})
		if err != nil {
			return removed, fmt.Errorf("failed to list files: %w", err)
		}
		if len(files) == 0 {
			return removed, nil
		}

		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, prefix+"/"+f.Name)
		}
		if err := s.Delete(ctx, paths...); err != nil {
			return removed, err
		}
		removed += len(paths)
		if len(files) < listPageSize {
			return removed, nil
		}
	}
}

// SignedURL returns a time-limited download URL.
func (s *StorageClient) SignedURL(ctx context.Context, storagePath string, expiresInSeconds int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.client.CreateSignedUrl(s.bucket, storagePath, expiresInSeconds)
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}
	signed := resp.SignedURL
	if strings.HasPrefix(signed, "/") {
		signed = s.baseURL + "/storage/v1" + signed
	}
	return signed, nil
}

func (s *StorageClient) PublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, storagePath)
}
