package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUploadReturnsPublicURL(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewStorageClient(srv.URL, "anon-key")
	s.SetToken("tok")
	url, err := s.Upload(context.Background(), BucketPhotos, "u1/pic.jpg", "image/jpeg", strings.NewReader("jpegdata"))
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/storage/v1/object/photos/u1/pic.jpg" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody != "jpegdata" || gotType != "image/jpeg" {
		t.Errorf("body = %q, type = %q", gotBody, gotType)
	}
	want := srv.URL + "/storage/v1/object/public/photos/u1/pic.jpg"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	s := NewStorageClient(srv.URL, "anon-key")
	if _, err := s.Upload(context.Background(), BucketPhotos, "k", "image/jpeg", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for oversized upload")
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("u1", "my photo (1).jpg")
	if !strings.HasPrefix(key, "u1/") {
		t.Errorf("key = %q, want u1/ prefix", key)
	}
	if strings.ContainsAny(key, " ()") {
		t.Errorf("key = %q contains unsafe characters", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Errorf("key = %q, want .jpg suffix", key)
	}

	// Two keys for the same filename must differ.
	if key2 := ObjectKey("u1", "my photo (1).jpg"); key2 == key {
		t.Error("object keys must be unique per call")
	}
}
