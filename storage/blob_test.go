package storage

import (
	"context"
	"strings"
	"testing"
)

func TestCoverPath(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{name: "keeps extension", filename: "cover.PNG", want: "covers/7/123456.png"},
		{name: "defaults to jpg", filename: "cover", want: "covers/7/123456.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoverPath(7, "123456", tt.filename); got != tt.want {
				t.Errorf("CoverPath() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("http://blobs.local/")

	url, err := s.Put(ctx, CoverPath(1, "100001", "a.jpg"), strings.NewReader("img"), 3, "image/jpeg")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if url != "http://blobs.local/covers/1/100001.jpg" {
		t.Errorf("url = %s", url)
	}
	_, _ = s.Put(ctx, CoverPath(1, "100002", "b.jpg"), strings.NewReader("img"), 3, "image/jpeg")

	if err := s.DeletePrefix(ctx, CoverPrefix(1, "100001")); err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if _, ok := s.Get("covers/1/100001.jpg"); ok {
		t.Error("cover should be deleted")
	}
	if _, ok := s.Get("covers/1/100002.jpg"); !ok {
		t.Error("other room's cover should remain")
	}
}
