package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd":        "passwd",
		`C:\Users\me\ใบเสนอราคา.pdf`: "ใบเสนอราคา.pdf",
		"front<bumper>.jpg":       "front_bumper_.jpg",
		"...":                     "file",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("c-1", "DAMAGE_IMAGE", "front.jpg")
	if !strings.HasPrefix(key, "claims/c-1/damage_image/") || !strings.HasSuffix(key, "_front.jpg") {
		t.Errorf("key = %s", key)
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a.PDF", ""); got != "application/pdf" {
		t.Errorf("got %s", got)
	}
	if got := ContentType("a.pdf", "image/png"); got != "image/png" {
		t.Errorf("declared type overridden: %s", got)
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	key := "claims/c-1/other/abc_note.txt"
	if err := s.Put(ctx, key, strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "hello" {
		t.Errorf("content = %q", b)
	}
	// no direct link: a local file must only be served after authorization
	if u, err := s.URL(ctx, key); err != nil || u != "" {
		t.Errorf("URL = %q, %v", u, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir())
	// path.Clean anchors the key at the root, so traversal collapses inside dir
	if err := s.Put(context.Background(), "../../outside.txt", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Open(context.Background(), "outside.txt"); err != nil {
		t.Errorf("expected file inside storage dir: %v", err)
	}
}
