// Package enrichment implements the Enrichment Manager (spec.md §4.G): a
// three-lane priority queue that cascades TheAudioDB then Wikipedia to
// produce an EnrichmentPayload per entity, obeying strict per-lane time
// budgets and a shared cache.
package enrichment

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/enrichment/cache"
	"github.com/arung-agamani/denpa-player/internal/enrichment/provider/theaudiodb"
	"github.com/arung-agamani/denpa-player/internal/enrichment/provider/wikipedia"
	"github.com/arung-agamani/denpa-player/internal/enrichment/ratelimit"
	"github.com/arung-agamani/denpa-player/internal/model"
)

// errEnrichmentTimeout marks a retryable attempt failure inside
// withTimeoutRetry; it never escapes runTheAudioDB/runWikipedia.
var errEnrichmentTimeout = errors.New("enrichment: provider request timed out")

const (
	maxPendingPrefetchRequests = 64
	backgroundWarmInterval     = 30 * time.Second

	detailBudget    = 6 * time.Second
	detailTimeout   = 2500 * time.Millisecond
	prefetchBudget  = 2500 * time.Millisecond
	prefetchTimeout = 1200 * time.Millisecond
	backgroundBudget  = 1200 * time.Millisecond
	backgroundTimeout = 900 * time.Millisecond

	detailBackoffStart   = 320 * time.Millisecond
	detailBackoffCap     = 4 * time.Second
	detailBackoffRetries = 3
	prefetchBackoffStart   = 650 * time.Millisecond
	prefetchBackoffRetries = 2
)

type queuedEntry struct {
	entity    model.EnrichmentEntity
	notBefore time.Time
}

// Manager owns the three lane queues and dispatches fetches against the
// TheAudioDB -> Wikipedia provider cascade.
type Manager struct {
	b    *bus.Bus
	recv *bus.Receiver

	tadb    *theaudiodb.Client
	wiki    *wikipedia.Client
	lim     *ratelimit.TheAudioDBLimiter
	cch     *cache.Cache
	enabled bool

	mu               sync.Mutex
	detailQueue      *list.List
	visibleQueue     *list.List
	backgroundQueue  *list.List
	queuedAttempts   map[string]model.EnrichmentLane
	lastBackgroundAt time.Time
}

// New builds the Enrichment Manager. When enabled is false it still runs
// (so Detail-lane requests get an immediate Disabled payload instead of
// hanging forever) but never dispatches any HTTP call or queues prefetch
// work.
func New(b *bus.Bus, tadb *theaudiodb.Client, wiki *wikipedia.Client, lim *ratelimit.TheAudioDBLimiter, cch *cache.Cache, enabled bool) *Manager {
	return &Manager{
		b:               b,
		tadb:            tadb,
		wiki:            wiki,
		lim:             lim,
		cch:             cch,
		enabled:         enabled,
		detailQueue:     list.New(),
		visibleQueue:    list.New(),
		backgroundQueue: list.New(),
		queuedAttempts:  make(map[string]model.EnrichmentLane),
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.recv = m.b.Subscribe("enrichment")
	go m.runBus(ctx)
	go m.runDispatcher(ctx)
	go m.runImageGC(ctx)
}

func (m *Manager) runImageGC(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.cch.GCBySize(); err != nil {
				slog.Warn("enrichment: image cache gc failed", "error", err)
			}
		}
	}
}

func (m *Manager) runBus(ctx context.Context) {
	defer m.recv.Unsubscribe()
	for {
		msg, ok := m.recv.Recv(ctx)
		if !ok {
			return
		}
		switch v := msg.(type) {
		case bus.RequestEnrichment:
			m.enqueue(v.Entity, v.Priority.Lane())
		case bus.ReplaceEnrichmentPrefetchQueue:
			m.replaceQueue(m.visibleQueueRef(), v.Entities, model.LaneVisiblePrefetch)
		case bus.ReplaceEnrichmentBackgroundQueue:
			m.replaceQueue(m.backgroundQueueRef(), v.Entities, model.LaneBackgroundWarm)
		case bus.ClearEnrichmentCache:
			_ = m.cch.Clear()
			m.b.Publish(bus.EnrichmentCacheCleared{})
		}
	}
}

func (m *Manager) visibleQueueRef() *list.List    { return m.visibleQueue }
func (m *Manager) backgroundQueueRef() *list.List { return m.backgroundQueue }

// enqueue implements spec.md §4.G's enqueue rule: raise lane if already
// queued/in-flight at lower priority; drop non-Detail requests once the
// target queue is full.
func (m *Manager) enqueue(entity model.EnrichmentEntity, lane model.EnrichmentLane) {
	if !m.enabled && lane != model.LaneDetail {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fp := entity.Fingerprint()
	if existingLane, queued := m.queuedAttempts[fp]; queued {
		if lane.Higher(existingLane) {
			m.removeFromQueueLocked(fp)
			m.pushLocked(entity, lane)
		}
		return
	}

	target := m.queueForLane(lane)
	if lane != model.LaneDetail && target.Len() >= maxPendingPrefetchRequests {
		return
	}
	m.pushLocked(entity, lane)
}

func (m *Manager) queueForLane(lane model.EnrichmentLane) *list.List {
	switch lane {
	case model.LaneDetail:
		return m.detailQueue
	case model.LaneVisiblePrefetch:
		return m.visibleQueue
	default:
		return m.backgroundQueue
	}
}

func (m *Manager) pushLocked(entity model.EnrichmentEntity, lane model.EnrichmentLane) {
	m.queuedAttempts[entity.Fingerprint()] = lane
	m.queueForLane(lane).PushBack(queuedEntry{entity: entity})
}

func (m *Manager) removeFromQueueLocked(fingerprint string) {
	for _, q := range []*list.List{m.detailQueue, m.visibleQueue, m.backgroundQueue} {
		for e := q.Front(); e != nil; e = e.Next() {
			if e.Value.(queuedEntry).entity.Fingerprint() == fingerprint {
				q.Remove(e)
				return
			}
		}
	}
}

// replaceQueue atomically swaps target's contents with entities, preserving
// any entries still queued under Detail (spec.md §4.G).
func (m *Manager) replaceQueue(target *list.List, entities []model.EnrichmentEntity, lane model.EnrichmentLane) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for e := target.Front(); e != nil; {
		next := e.Next()
		fp := e.Value.(queuedEntry).entity.Fingerprint()
		if m.queuedAttempts[fp] != model.LaneDetail {
			delete(m.queuedAttempts, fp)
			target.Remove(e)
		}
		e = next
	}
	for _, entity := range entities {
		fp := entity.Fingerprint()
		if _, alreadyDetail := m.queuedAttempts[fp]; alreadyDetail {
			continue
		}
		m.queuedAttempts[fp] = lane
		target.PushBack(queuedEntry{entity: entity})
	}
}

// runDispatcher drains queues per spec.md §4.G's dequeue policy: Detail
// fully first, then VisiblePrefetch (skipping deferred entries), then
// BackgroundWarm at most once per BACKGROUND_WARM_INTERVAL.
func (m *Manager) runDispatcher(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dispatchOne(ctx)
		}
	}
}

func (m *Manager) dispatchOne(ctx context.Context) {
	entity, lane, ok := m.popNext()
	if !ok {
		return
	}
	payload := m.fetch(ctx, entity, lane)
	m.b.Publish(bus.EnrichmentResult{Payload: payload})

	m.mu.Lock()
	delete(m.queuedAttempts, entity.Fingerprint())
	m.mu.Unlock()
}

func (m *Manager) popNext() (model.EnrichmentEntity, model.EnrichmentLane, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if front := m.detailQueue.Front(); front != nil {
		m.detailQueue.Remove(front)
		return front.Value.(queuedEntry).entity, model.LaneDetail, true
	}

	now := time.Now()
	for e := m.visibleQueue.Front(); e != nil; e = e.Next() {
		qe := e.Value.(queuedEntry)
		if qe.notBefore.After(now) {
			continue
		}
		m.visibleQueue.Remove(e)
		return qe.entity, model.LaneVisiblePrefetch, true
	}

	if time.Since(m.lastBackgroundAt) < backgroundWarmInterval {
		return model.EnrichmentEntity{}, 0, false
	}
	if front := m.backgroundQueue.Front(); front != nil {
		m.backgroundQueue.Remove(front)
		m.lastBackgroundAt = now
		return front.Value.(queuedEntry).entity, model.LaneBackgroundWarm, true
	}
	return model.EnrichmentEntity{}, 0, false
}

func laneBudget(lane model.EnrichmentLane) (budget, perRequestTimeout time.Duration) {
	switch lane {
	case model.LaneDetail:
		return detailBudget, detailTimeout
	case model.LaneVisiblePrefetch:
		return prefetchBudget, prefetchTimeout
	default:
		return backgroundBudget, backgroundTimeout
	}
}

// fetch runs spec.md §4.G's fetch_outcome_for_entity cascade against one
// entity, checking the cache first and writing the final result back.
func (m *Manager) fetch(ctx context.Context, entity model.EnrichmentEntity, lane model.EnrichmentLane) model.EnrichmentPayload {
	if !m.enabled {
		payload := model.EnrichmentPayload{Entity: entity, Status: model.StatusDisabled, AttemptKind: "disabled:global"}
		if err := m.cch.Put(entity, payload, true); err != nil {
			slog.Warn("enrichment: cache write failed", "entity", entity.Name, "error", err)
		}
		return payload
	}

	if cached, ok, conclusive := m.cch.Get(entity); ok {
		bypassDisabled := lane == model.LaneDetail && cached.Status == model.StatusDisabled
		bypassFlakySingle := lane == model.LaneDetail && cached.Status == model.StatusReady &&
			entity.Kind == model.EntityArtist && len(entity.Name) > 0 && !containsSpace(entity.Name)
		if conclusive && !bypassDisabled && !bypassFlakySingle {
			return cached
		}
	}

	budget, timeout := laneBudget(lane)
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	payload := m.runCascade(budgetCtx, entity, lane, timeout)

	conclusive := payload.Status == model.StatusReady || payload.Status == model.StatusNotFound ||
		(payload.Status == model.StatusError && payload.ErrorKind == model.ErrHard)
	if err := m.cch.Put(entity, payload, conclusive); err != nil {
		slog.Warn("enrichment: cache write failed", "entity", entity.Name, "error", err)
	}
	return payload
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' {
			return true
		}
	}
	return false
}

// runCascade implements spec.md §4.G's provider cascade and final-choice
// priority: Ready beats anything; NotFound beats Error; otherwise best
// error wins.
func (m *Manager) runCascade(ctx context.Context, entity model.EnrichmentEntity, lane model.EnrichmentLane, timeout time.Duration) model.EnrichmentPayload {
	tadbOutcome, tadbRan := m.runTheAudioDB(ctx, entity, lane, timeout)
	if tadbRan && tadbOutcome.Ready {
		return m.withImage(ctx, entity, toPayload(entity, tadbOutcome, "theaudiodb"), tadbOutcome.ImageURL, timeout)
	}
	if tadbRan && (tadbOutcome.ErrorKind == theaudiodb.ErrRateLimited) && lane != model.LaneDetail {
		// deferred: re-enqueue for a later pass after deferred_not_before
		m.mu.Lock()
		m.visibleQueue.PushBack(queuedEntry{entity: entity, notBefore: time.Now().Add(2 * time.Second)})
		m.queuedAttempts[entity.Fingerprint()] = model.LaneVisiblePrefetch
		m.mu.Unlock()
	}

	wikiOutcome := m.runWikipedia(ctx, entity, lane, timeout)
	if wikiOutcome.Ready {
		return m.withImage(ctx, entity, toPayload(entity, wikiOutcome, "wikipedia"), wikiOutcome.ImageURL, timeout)
	}

	if wikiOutcome.NotFound || (tadbRan && tadbOutcome.NotFound) {
		return model.EnrichmentPayload{Entity: entity, Status: model.StatusNotFound, AttemptKind: "not_found:cascade"}
	}

	if ctx.Err() != nil {
		return model.EnrichmentPayload{Entity: entity, Status: model.StatusError, ErrorKind: model.ErrBudgetExhausted, AttemptKind: "budget_exhausted:cascade"}
	}

	errKind, source := mapErrorKind(wikiOutcome.ErrorKind), "wikipedia"
	if tadbRan && tadbOutcome.ErrorKind != theaudiodb.ErrNone {
		errKind, source = mapErrorKind(tadbOutcome.ErrorKind), "theaudiodb"
	}
	return model.EnrichmentPayload{Entity: entity, Status: model.StatusError, ErrorKind: errKind, AttemptKind: errKind.String() + ":" + source}
}

// backoffPlan returns the per-lane Timeout retry schedule (spec.md §4.G):
// Detail gets 3 attempts starting at 320ms, doubling and capped at 4s;
// VisiblePrefetch gets 2 attempts starting at 650ms; BackgroundWarm never
// retries (its budget is too tight to afford it).
func backoffPlan(lane model.EnrichmentLane) (attempts int, start time.Duration) {
	switch lane {
	case model.LaneDetail:
		return detailBackoffRetries, detailBackoffStart
	case model.LaneVisiblePrefetch:
		return prefetchBackoffRetries, prefetchBackoffStart
	default:
		return 1, 0
	}
}

// withTimeoutRetry re-runs attempt while it classifies as a Timeout, up to
// the lane's attempt budget, sleeping an exponential-capped backoff between
// tries and bailing early if ctx's own budget would be exceeded.
func withTimeoutRetry(ctx context.Context, lane model.EnrichmentLane, isTimeout func(error) bool, attempt func() error) error {
	attempts, wait := backoffPlan(lane)
	var err error
	for i := 0; i < attempts; i++ {
		err = attempt()
		if err == nil || !isTimeout(err) {
			return err
		}
		if i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
		if wait > detailBackoffCap {
			wait = detailBackoffCap
		}
	}
	return err
}

func (m *Manager) runTheAudioDB(ctx context.Context, entity model.EnrichmentEntity, lane model.EnrichmentLane, timeout time.Duration) (theaudiodb.Outcome, bool) {
	var acquired bool
	if lane == model.LaneDetail {
		acquired = m.lim.AcquireDetail(ctx, nil)
	} else {
		acquired = m.lim.TryAcquire()
	}
	if !acquired {
		return theaudiodb.Outcome{ErrorKind: theaudiodb.ErrRateLimited}, true
	}

	var outcome theaudiodb.Outcome
	_ = withTimeoutRetry(ctx, lane,
		func(error) bool { return outcome.ErrorKind == theaudiodb.ErrTimeout },
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if entity.Kind == model.EntityArtist {
				outcome = m.tadb.FetchArtist(reqCtx, entity.Name, timeout)
			} else {
				outcome = m.tadb.FetchAlbum(reqCtx, entity.Name, entity.AlbumArtist, timeout)
			}
			if outcome.ErrorKind == theaudiodb.ErrTimeout {
				return errEnrichmentTimeout
			}
			return nil
		},
	)
	return outcome, true
}

func (m *Manager) runWikipedia(ctx context.Context, entity model.EnrichmentEntity, lane model.EnrichmentLane, timeout time.Duration) wikipedia.Outcome {
	broadDetail := lane == model.LaneDetail

	var outcome wikipedia.Outcome
	_ = withTimeoutRetry(ctx, lane,
		func(error) bool { return outcome.ErrorKind == wikipedia.ErrTimeout },
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if entity.Kind == model.EntityArtist {
				outcome = m.wiki.FetchArtist(reqCtx, entity.Name, broadDetail)
			} else {
				outcome = m.wiki.FetchAlbum(reqCtx, entity.Name, entity.AlbumArtist, broadDetail)
			}
			if outcome.ErrorKind == wikipedia.ErrTimeout {
				return errEnrichmentTimeout
			}
			return nil
		},
	)
	return outcome
}

func mapErrorKind(k theaudiodb.ErrorKind) model.EnrichmentErrorKind {
	switch k {
	case theaudiodb.ErrTimeout:
		return model.ErrTimeout
	case theaudiodb.ErrRateLimited:
		return model.ErrRateLimited
	case theaudiodb.ErrHard:
		return model.ErrHard
	default:
		return model.ErrNone
	}
}

// withImage downloads outcome's image best-effort; a failed download never
// fails the whole payload, it just leaves ImagePath empty.
func (m *Manager) withImage(ctx context.Context, entity model.EnrichmentEntity, payload model.EnrichmentPayload, imageURL string, timeout time.Duration) model.EnrichmentPayload {
	if imageURL == "" {
		return payload
	}
	path, err := m.cch.DownloadImage(ctx, entity.Fingerprint(), imageURL, timeout)
	if err != nil {
		slog.Debug("enrichment: image download failed", "entity", entity.Name, "error", err)
		return payload
	}
	payload.ImagePath = path
	return payload
}

func toPayload(entity model.EnrichmentEntity, o theaudiodb.Outcome, source string) model.EnrichmentPayload {
	return model.EnrichmentPayload{
		Entity:      entity,
		Status:      model.StatusReady,
		Blurb:       o.Blurb,
		SourceName:  o.SourceName,
		SourceURL:   o.SourceURL,
		AttemptKind: "ready:" + source,
	}
}
