package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arung-agamani/denpa-player/internal/model"
	"github.com/arung-agamani/denpa-player/internal/persistence/jsonstore"
)

func pastTime() time.Time { return time.Now().Add(-time.Hour) }

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := jsonstore.Open(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("jsonstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	imageDir := filepath.Join(dir, "images")
	return New(store, imageDir, 1024*1024), imageDir
}

func TestTTLFor(t *testing.T) {
	cases := []struct {
		name       string
		payload    model.EnrichmentPayload
		conclusive bool
		want       bool // whether the TTL should be the "long" kind (> 1 second)
	}{
		{"ready", model.EnrichmentPayload{Status: model.StatusReady}, true, true},
		{"not found", model.EnrichmentPayload{Status: model.StatusNotFound}, true, true},
		{"disabled", model.EnrichmentPayload{Status: model.StatusDisabled}, true, true},
		{"hard error", model.EnrichmentPayload{Status: model.StatusError, ErrorKind: model.ErrHard}, true, true},
		{"timeout error", model.EnrichmentPayload{Status: model.StatusError, ErrorKind: model.ErrTimeout}, true, false},
		{"non-conclusive", model.EnrichmentPayload{Status: model.StatusReady}, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ttl := TTLFor(c.payload, c.conclusive)
			if got := ttl.Seconds() > 1; got != c.want {
				t.Errorf("TTLFor(%+v, %v) = %v, want long-lived=%v", c.payload, c.conclusive, ttl, c.want)
			}
		})
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	entity := model.EnrichmentEntity{Kind: model.EntityArtist, Name: "Daft Punk"}
	payload := model.EnrichmentPayload{Entity: entity, Status: model.StatusReady, Blurb: "French duo"}

	if err := c.Put(entity, payload, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, conclusive := c.Get(entity)
	if !ok {
		t.Fatal("Get: not found after Put")
	}
	if !conclusive {
		t.Error("Get: expected conclusive=true")
	}
	if got.Blurb != "French duo" {
		t.Errorf("Blurb = %q, want %q", got.Blurb, "French duo")
	}
}

func TestGetMissingEntity(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, _ := c.Get(model.EnrichmentEntity{Kind: model.EntityArtist, Name: "Nobody"})
	if ok {
		t.Error("Get on an entity never Put should return ok=false")
	}
}

func TestGetClearsDanglingImagePath(t *testing.T) {
	c, _ := newTestCache(t)
	entity := model.EnrichmentEntity{Kind: model.EntityArtist, Name: "Daft Punk"}
	payload := model.EnrichmentPayload{Entity: entity, Status: model.StatusReady, ImagePath: "/does/not/exist.png"}

	if err := c.Put(entity, payload, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, _ := c.Get(entity)
	if !ok {
		t.Fatal("Get: not found")
	}
	if got.ImagePath != "" {
		t.Errorf("ImagePath = %q, want empty after the file was found missing", got.ImagePath)
	}
}

func TestHasRecognizedMagic(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want bool
	}{
		{"png", []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}, true},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, true},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61}, true},
		{"bmp", []byte{0x42, 0x4d, 0x00, 0x00}, true},
		{"unrecognized", []byte{0x00, 0x01, 0x02, 0x03}, false},
		{"too short", []byte{0x89}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := hasRecognizedMagic(c.head); got != c.want {
				t.Errorf("hasRecognizedMagic(%v) = %v, want %v", c.head, got, c.want)
			}
		})
	}
}

func TestImagePathIsDeterministic(t *testing.T) {
	c, _ := newTestCache(t)
	p1 := c.ImagePath("artist|daft-punk", "http://example.com/a.png")
	p2 := c.ImagePath("artist|daft-punk", "http://example.com/a.png")
	if p1 != p2 {
		t.Errorf("ImagePath not deterministic: %q != %q", p1, p2)
	}
	p3 := c.ImagePath("artist|daft-punk", "http://example.com/b.png")
	if p1 == p3 {
		t.Error("ImagePath collided for two different URLs")
	}
}

func TestGCBySizeDeletesOldestFirst(t *testing.T) {
	c, imageDir := newTestCache(t)
	c.maxBytes = 10 // force eviction on the very first GC pass

	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	old := filepath.Join(imageDir, "old.png")
	newer := filepath.Join(imageDir, "new.png")
	if err := os.WriteFile(old, []byte("01234567"), 0o644); err != nil {
		t.Fatalf("WriteFile old: %v", err)
	}
	if err := os.Chtimes(old, pastTime(), pastTime()); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.WriteFile(newer, []byte("01234567"), 0o644); err != nil {
		t.Fatalf("WriteFile new: %v", err)
	}

	if err := c.GCBySize(); err != nil {
		t.Fatalf("GCBySize: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected the older file to be evicted first")
	}
}
