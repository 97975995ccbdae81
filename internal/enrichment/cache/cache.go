// Package cache is the Enrichment Manager's TTL-aware result cache
// (spec.md §4.G "Cache TTLs" and "Image pipeline"), backed by a
// persistence.Adapter so cached payloads survive restarts.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arung-agamani/denpa-player/internal/model"
	"github.com/arung-agamani/denpa-player/internal/persistence"
)

const (
	readyTTL        = 30 * 24 * time.Hour
	notFoundTTL     = 7 * 24 * time.Hour
	disabledTTL     = 60 * time.Second
	hardErrorTTL    = 30 * time.Minute
	retrySoonTTL    = time.Millisecond
	nonConclusiveTTL = time.Millisecond
)

// Cache wraps a persistence.Adapter with the Enrichment Manager's TTL rules
// and on-disk image validation/GC.
type Cache struct {
	store    persistence.Adapter
	imageDir string
	maxBytes int64
	nowFn    func() int64
	client   *resty.Client
}

func New(store persistence.Adapter, imageDir string, maxBytes int64) *Cache {
	return &Cache{
		store:    store,
		imageDir: imageDir,
		maxBytes: maxBytes,
		nowFn:    func() int64 { return time.Now().UnixMilli() },
		client:   resty.New(),
	}
}

// TTLFor returns how long a payload outcome stays cached, per spec.md's
// cache TTL table; Put adds it to the current time to get the expiry.
func TTLFor(p model.EnrichmentPayload, conclusive bool) time.Duration {
	if !conclusive {
		return nonConclusiveTTL
	}
	switch p.Status {
	case model.StatusReady:
		return readyTTL
	case model.StatusNotFound:
		return notFoundTTL
	case model.StatusDisabled:
		return disabledTTL
	case model.StatusError:
		if p.ErrorKind == model.ErrHard {
			return hardErrorTTL
		}
		return retrySoonTTL
	default:
		return retrySoonTTL
	}
}

// Put stores payload, computing its expiry from TTLFor.
func (c *Cache) Put(entity model.EnrichmentEntity, payload model.EnrichmentPayload, conclusive bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("enrichment cache: marshal payload: %w", err)
	}
	now := c.nowFn()
	ttl := TTLFor(payload, conclusive)
	row := persistence.EnrichmentRow{
		Fingerprint: entity.Fingerprint(),
		Payload:     body,
		ImagePath:   payload.ImagePath,
		NowMS:       now,
		ExpiresMS:   now + ttl.Milliseconds(),
		Conclusive:  conclusive,
	}
	if payload.Status == model.StatusError {
		row.LastError = payload.ErrorKind.String()
	}
	return c.store.UpsertEnrichmentRow(row)
}

// Get looks up a cached payload, pruning expired rows first and validating
// any referenced image still exists with a recognized magic header.
func (c *Cache) Get(entity model.EnrichmentEntity) (model.EnrichmentPayload, bool, bool) {
	now := c.nowFn()
	_, _ = c.store.PruneExpiredEnrichmentRows(now)

	row, ok, err := c.store.GetEnrichmentRow(entity.Fingerprint())
	if err != nil || !ok {
		return model.EnrichmentPayload{}, false, false
	}

	var payload model.EnrichmentPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return model.EnrichmentPayload{}, false, false
	}

	if payload.ImagePath != "" && !c.imageValid(payload.ImagePath) {
		payload.ImagePath = ""
		_ = c.store.ClearImagePath(row.ImagePath)
	}

	return payload, true, row.Conclusive
}

func (c *Cache) Clear() error {
	_, err := c.store.PruneExpiredEnrichmentRows(c.nowFn() + int64(365*24*time.Hour/time.Millisecond))
	return err
}

// magic byte prefixes accepted by the image pipeline (spec.md §4.G).
var magicPrefixes = [][]byte{
	{0x89, 0x50, 0x4e, 0x47}, // PNG
	{0xff, 0xd8, 0xff},       // JPEG
	{0x52, 0x49, 0x46, 0x46}, // RIFF container (WebP)
	{0x47, 0x49, 0x46, 0x38}, // GIF
	{0x42, 0x4d},             // BMP
}

func hasRecognizedMagic(head []byte) bool {
	for _, prefix := range magicPrefixes {
		if len(head) >= len(prefix) && bytes.Equal(head[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

func (c *Cache) imageValid(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 8)
	n, _ := f.Read(head)
	return hasRecognizedMagic(head[:n])
}

// ImagePath returns the deterministic cache path for entity|url (spec.md
// §4.G "cached under a deterministic key entity_label|url").
func (c *Cache) ImagePath(entityLabel, imageURL string) string {
	sum := fmt.Sprintf("%x", simpleHash(entityLabel+"|"+imageURL))
	return filepath.Join(c.imageDir, sum)
}

func simpleHash(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// DownloadImage fetches imageURL within timeout and, if its body decodes to
// a recognized magic header, writes it under the deterministic
// entityLabel|url key and returns the on-disk path (spec.md §4.G "Image
// pipeline").
func (c *Cache) DownloadImage(ctx context.Context, entityLabel, imageURL string, timeout time.Duration) (string, error) {
	if imageURL == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.imageDir, 0o755); err != nil {
		return "", fmt.Errorf("enrichment cache: create image dir: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := c.client.R().SetContext(reqCtx).Get(imageURL)
	if err != nil {
		return "", fmt.Errorf("enrichment cache: fetch image: %w", err)
	}
	if r.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("enrichment cache: image fetch returned HTTP %d", r.StatusCode())
	}

	body := r.Body()
	if len(body) > 16*1024*1024 {
		body = body[:16*1024*1024]
	}
	if !hasRecognizedMagic(body) {
		return "", fmt.Errorf("enrichment cache: image body has unrecognized format")
	}

	path := c.ImagePath(entityLabel, imageURL)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("enrichment cache: write image: %w", err)
	}
	return path, nil
}

// GCBySize enforces artist_image_cache_max_size_mb by deleting the oldest
// files first until the directory is back under the limit, clearing each
// evicted file's DB image_path reference.
func (c *Cache) GCBySize() error {
	entries, err := os.ReadDir(c.imageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("enrichment cache: read image dir: %w", err)
	}

	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(c.imageDir, e.Name())
		files = append(files, fileInfo{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		total -= f.size
		_ = c.store.ClearImagePath(f.path)
	}
	return nil
}
