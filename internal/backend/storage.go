package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage buckets used by the app.
const (
	BucketPhotos      = "photos"
	BucketAttachments = "message-attachments"
)

// StorageClient uploads blobs to the backend's object storage and issues
// public retrieval URLs.
type StorageClient struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// NewStorageClient creates a storage client for the given backend URL and anon key.
func NewStorageClient(baseURL, apiKey string) *StorageClient {
	return &StorageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// SetToken installs the session access token used for uploads.
func (s *StorageClient) SetToken(token string) {
	s.token = token
}

// ObjectKey generates a collision-free object key under the given prefix,
// preserving the original filename for readability.
func ObjectKey(prefix, filename string) string {
	name := path.Base(filename)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return fmt.Sprintf("%s/%d-%s-%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8], name)
}

// Upload stores the blob under key in the named bucket and returns the
// durable public URL.
func (s *StorageClient) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error) {
	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", s.apiKey)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return "", &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return s.PublicURL(bucket, key), nil
}

// PublicURL returns the durable retrieval URL for an uploaded object.
func (s *StorageClient) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, bucket, key)
}
