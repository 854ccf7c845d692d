// Package engine orchestrates the memory lifecycle: classification,
// embedding, sequenced metadata writes, vector storage and waypoint-graph
// retrieval. It owns no storage itself; metadata, vectors and embeddings are
// injected collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
	"github.com/CaviraOSS/openmemory-go/internal/embedding"
	"github.com/CaviraOSS/openmemory-go/internal/models"
	"github.com/CaviraOSS/openmemory-go/internal/sequencer"
	"github.com/CaviraOSS/openmemory-go/internal/store"
	"github.com/CaviraOSS/openmemory-go/internal/tenant"
	"github.com/CaviraOSS/openmemory-go/internal/vector"
)

var (
	// ErrEmptyContent rejects adds and updates with no content.
	ErrEmptyContent = errors.New("content is empty")
	// ErrPartialWrite reports a memory whose metadata committed but whose
	// vectors could not be stored after retries. The id is usable; retrieval
	// quality for it is degraded until re-embedded.
	ErrPartialWrite = errors.New("vector write failed after metadata commit")
)

const (
	vectorWriteRetries = 3
	initialSalience    = 0.4
	saliencePerSector  = 0.1
)

// Engine ties the stores together behind the public memory operations.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	vectors  vector.Store
	embedder embedding.Embedder
	registry *models.Registry
	seq      *sequencer.Sequencer
	tenants  *tenant.Resolver
	scorer   Scorer
	logger   *logrus.Logger
	now      func() int64
}

func New(cfg *config.Config, st *store.Store, vs vector.Store, emb embedding.Embedder, reg *models.Registry, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		vectors:  vs,
		embedder: emb,
		registry: reg,
		seq:      sequencer.New(cfg.Write, logger),
		tenants:  tenant.NewResolver(cfg.Tenant, logger),
		scorer:   DefaultScorer(),
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SetScorer swaps the ranking function. Must be called before serving
// queries.
func (e *Engine) SetScorer(s Scorer) {
	if s != nil {
		e.scorer = s
	}
}

// Close drains the write queue.
func (e *Engine) Close() {
	e.seq.Close()
}

type AddRequest struct {
	Content  string
	Tags     []string
	Metadata map[string]any
	TenantID string
	UserID   string
}

type AddResult struct {
	ID            string
	PrimarySector string
	Sectors       []string
}

// Add stores a new memory: classify, persist metadata through the write
// sequencer, embed and store one vector per sector, then link it into the
// waypoint graph near its closest neighbours.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	if req.Content == "" {
		return nil, ErrEmptyContent
	}
	tenantID, err := e.tenants.Resolve(req.TenantID, "")
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	cls := Classify(req.Content, req.Metadata)
	allSectors := append([]string{cls.Primary}, cls.Additional...)

	id := uuid.NewString()
	now := e.now()
	salience := clamp01(initialSalience + saliencePerSector*float64(len(cls.Additional)))

	mem := &store.Memory{
		ID:            id,
		TenantID:      tenantID,
		UserID:        req.UserID,
		PrimarySector: cls.Primary,
		Content:       req.Content,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
		Salience:      salience,
		DecayLambda:   DecayLambda(cls.Primary),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
	}
	if _, err := e.seq.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, e.store.InsertMemory(ctx, mem)
	}); err != nil {
		return nil, fmt.Errorf("metadata write: %w", err)
	}

	var primaryVec []float32
	for _, sector := range allSectors {
		model := e.registry.Resolve(sector, e.embedder.Provider())
		vec, err := e.embedder.Embed(ctx, req.Content, model)
		if err != nil {
			return nil, fmt.Errorf("embed sector %s: %w", sector, err)
		}
		if sector == cls.Primary {
			primaryVec = vec
		}
		if err := e.storeVectorRetry(ctx, id, sector, vec, tenantID, req.UserID); err != nil {
			e.logger.WithFields(logrus.Fields{
				"id":     id,
				"sector": sector,
			}).WithError(err).Error("vector write failed, metadata already committed")
			return &AddResult{ID: id, PrimarySector: cls.Primary, Sectors: allSectors},
				fmt.Errorf("%w: sector %s: %v", ErrPartialWrite, sector, err)
		}
	}

	if e.cfg.Graph.Expansion && primaryVec != nil {
		if err := e.linkNeighbors(ctx, id, cls.Primary, primaryVec, tenantID, req.UserID, now); err != nil {
			// Associations are best-effort; the memory itself is committed.
			e.logger.WithField("id", id).WithError(err).Warn("association linking failed")
		}
	}

	return &AddResult{ID: id, PrimarySector: cls.Primary, Sectors: allSectors}, nil
}

func (e *Engine) storeVectorRetry(ctx context.Context, id, sector string, vec []float32, tenantID, userID string) error {
	var err error
	for attempt := 1; attempt <= vectorWriteRetries; attempt++ {
		err = e.vectors.StoreVector(ctx, id, sector, vec, len(vec), tenantID, userID)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		e.logger.WithFields(logrus.Fields{
			"id":      id,
			"sector":  sector,
			"attempt": attempt,
		}).WithError(err).Warn("vector write retry")
	}
	return err
}

// linkNeighbors associates a freshly added memory with its nearest existing
// neighbours in the same primary sector: bidirectional edges weighted by
// similarity, gated by the configured threshold.
func (e *Engine) linkNeighbors(ctx context.Context, id, sector string, vec []float32, tenantID, userID string, now int64) error {
	topN := e.cfg.Graph.LinkTopN
	if topN <= 0 {
		topN = 3
	}
	matches, err := e.vectors.SearchSimilar(ctx, sector, vec, topN+1, tenantID)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.ID == id || m.Score < e.cfg.Graph.LinkThreshold {
			continue
		}
		if _, err := e.seq.Do(ctx, func(ctx context.Context) (any, error) {
			fwd := &store.Waypoint{
				SrcID: id, DstID: m.ID, TenantID: tenantID, UserID: userID,
				Weight: m.Score, CreatedAt: now, UpdatedAt: now,
			}
			if err := e.store.UpsertWaypoint(ctx, fwd); err != nil {
				return nil, err
			}
			rev := &store.Waypoint{
				SrcID: m.ID, DstID: id, TenantID: tenantID, UserID: userID,
				Weight: m.Score, CreatedAt: now, UpdatedAt: now,
			}
			return nil, e.store.UpsertWaypoint(ctx, rev)
		}); err != nil {
			return err
		}
	}
	return nil
}

type QueryRequest struct {
	Query       string
	K           int
	TenantID    string
	Sectors     []string
	UserID      string
	MinSalience float64
}

type QueryResult struct {
	ID            string
	Content       string
	Score         float64
	PrimarySector string
	Sectors       []string
	Salience      float64
	Tags          []string
	Metadata      map[string]any
	Path          []string
	Hops          int
	LastSeenAt    int64
}

// Query retrieves the k best memories for a text query. The path is
// read-only: salience is decayed on the fly for filtering and scoring but
// never written back.
func (e *Engine) Query(ctx context.Context, req QueryRequest) ([]QueryResult, error) {
	if req.Query == "" {
		return nil, ErrEmptyContent
	}
	tenantID := e.tenants.Sanitize(req.TenantID)

	k := req.K
	if k <= 0 {
		k = 10
	}
	sectors := req.Sectors
	if len(sectors) == 0 {
		sectors = Sectors
	}

	type hit struct {
		score  float64
		sector string
	}
	best := make(map[string]hit)
	for _, sector := range sectors {
		model := e.registry.Resolve(sector, e.embedder.Provider())
		qv, err := e.embedder.Embed(ctx, req.Query, model)
		if err != nil {
			return nil, fmt.Errorf("embed sector %s: %w", sector, err)
		}
		matches, err := e.vectors.SearchSimilar(ctx, sector, qv, k*3, tenantID)
		if err != nil {
			return nil, fmt.Errorf("search sector %s: %w", sector, err)
		}
		for _, m := range matches {
			if h, ok := best[m.ID]; !ok || m.Score > h.score {
				best[m.ID] = hit{score: m.Score, sector: sector}
			}
		}
	}

	seeds := make([]string, 0, len(best))
	for id := range best {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	expanded := make(map[string]expansion)
	if e.cfg.Graph.Expansion {
		exps, err := e.expandWaypoints(ctx, tenantID, seeds, k*2)
		if err != nil {
			return nil, fmt.Errorf("waypoint expansion: %w", err)
		}
		for _, ex := range exps {
			if _, direct := best[ex.ID]; direct {
				continue
			}
			if prev, ok := expanded[ex.ID]; !ok || ex.Weight > prev.Weight {
				expanded[ex.ID] = ex
			}
		}
	}

	now := e.now()
	results := make([]QueryResult, 0, len(best)+len(expanded))
	appendCandidate := func(id string, similarity, hopWeight float64, path []string, hops int) error {
		m, err := e.store.GetMemory(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if m == nil {
			// Vector or waypoint without a metadata row; skip.
			return nil
		}
		if req.UserID != "" && m.UserID != req.UserID {
			return nil
		}
		sal := effectiveSalience(m.PrimarySector, m.Salience, m.LastSeenAt, now)
		if req.MinSalience > 0 && sal < req.MinSalience {
			return nil
		}
		entries, err := e.vectors.GetVectorsByID(ctx, id, tenantID)
		if err != nil {
			return err
		}
		memSectors := make([]string, 0, len(entries))
		for _, en := range entries {
			memSectors = append(memSectors, en.Sector)
		}
		if path == nil {
			path = []string{id}
		}
		results = append(results, QueryResult{
			ID:            id,
			Content:       m.Content,
			Score:         e.scorer.Score(ScoreInput{Similarity: similarity, Salience: sal, HopWeight: hopWeight, Hops: hops}),
			PrimarySector: m.PrimarySector,
			Sectors:       memSectors,
			Salience:      sal,
			Tags:          m.Tags,
			Metadata:      m.Metadata,
			Path:          path,
			Hops:          hops,
			LastSeenAt:    m.LastSeenAt,
		})
		return nil
	}

	for _, id := range seeds {
		h := best[id]
		if err := appendCandidate(id, h.score, 0, nil, 0); err != nil {
			return nil, err
		}
	}
	expIDs := make([]string, 0, len(expanded))
	for id := range expanded {
		expIDs = append(expIDs, id)
	}
	sort.Strings(expIDs)
	for _, id := range expIDs {
		ex := expanded[id]
		if err := appendCandidate(id, 0, ex.Weight, ex.Path, ex.Hops); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

type UpdateRequest struct {
	ID       string
	TenantID string
	// Nil means keep the stored value.
	Content  *string
	Tags     []string
	Metadata map[string]any
}

// Update edits a memory in place. A content change re-classifies and
// re-embeds every sector; tag or metadata edits touch only the row. Either
// way the version is bumped.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) error {
	tenantID, err := e.tenants.Resolve(req.TenantID, "")
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	m, err := e.store.GetMemory(ctx, tenantID, req.ID)
	if err != nil {
		return err
	}
	if m == nil {
		return store.ErrNotFound
	}

	if req.Tags != nil {
		m.Tags = req.Tags
	}
	if req.Metadata != nil {
		m.Metadata = req.Metadata
	}

	contentChanged := req.Content != nil && *req.Content != m.Content
	if contentChanged {
		if *req.Content == "" {
			return ErrEmptyContent
		}
		m.Content = *req.Content
		cls := Classify(m.Content, m.Metadata)
		m.PrimarySector = cls.Primary
		m.DecayLambda = DecayLambda(cls.Primary)

		if err := e.vectors.DeleteVectors(ctx, m.ID, tenantID); err != nil {
			return fmt.Errorf("delete stale vectors: %w", err)
		}
		for _, sector := range append([]string{cls.Primary}, cls.Additional...) {
			model := e.registry.Resolve(sector, e.embedder.Provider())
			vec, err := e.embedder.Embed(ctx, m.Content, model)
			if err != nil {
				return fmt.Errorf("embed sector %s: %w", sector, err)
			}
			if err := e.storeVectorRetry(ctx, m.ID, sector, vec, tenantID, m.UserID); err != nil {
				return fmt.Errorf("%w: sector %s: %v", ErrPartialWrite, sector, err)
			}
		}
	}

	m.Version++
	m.UpdatedAt = e.now()
	if _, err := e.seq.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, e.store.UpdateMemory(ctx, m)
	}); err != nil {
		return fmt.Errorf("metadata write: %w", err)
	}
	return nil
}

// Delete removes a memory everywhere: all sector vectors, every waypoint
// touching it in either direction, and the metadata row.
func (e *Engine) Delete(ctx context.Context, tenantID, id string) error {
	resolved, err := e.tenants.Resolve(tenantID, "")
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	if err := e.vectors.DeleteVectors(ctx, id, resolved); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	_, err = e.seq.Do(ctx, func(ctx context.Context) (any, error) {
		if err := e.store.DeleteWaypointsFor(ctx, resolved, id); err != nil {
			return nil, err
		}
		return nil, e.store.DeleteMemory(ctx, resolved, id)
	})
	return err
}

// Get fetches one memory with its read-through salience.
func (e *Engine) Get(ctx context.Context, tenantID, id string) (*store.Memory, error) {
	resolved := e.tenants.Sanitize(tenantID)
	m, err := e.store.GetMemory(ctx, resolved, id)
	if err != nil || m == nil {
		return m, err
	}
	m.Salience = effectiveSalience(m.PrimarySector, m.Salience, m.LastSeenAt, e.now())
	return m, nil
}

// List pages a tenant's memories newest first, salience read-through applied.
func (e *Engine) List(ctx context.Context, tenantID string, limit, offset int, userID string) ([]store.Memory, error) {
	resolved := e.tenants.Sanitize(tenantID)
	mems, err := e.store.ListMemories(ctx, resolved, limit, offset, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range mems {
		mems[i].Salience = effectiveSalience(mems[i].PrimarySector, mems[i].Salience, mems[i].LastSeenAt, now)
	}
	return mems, nil
}

// Reinforce is the explicit write path for retrieval feedback: bump salience
// and refresh last_seen_at. Queries never do this implicitly.
func (e *Engine) Reinforce(ctx context.Context, tenantID, id string, boost float64) error {
	resolved, err := e.tenants.Resolve(tenantID, "")
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	m, err := e.store.GetMemory(ctx, resolved, id)
	if err != nil {
		return err
	}
	if m == nil {
		return store.ErrNotFound
	}
	sal := clamp01(m.Salience + boost)
	now := e.now()
	_, err = e.seq.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, e.store.TouchLastSeen(ctx, resolved, id, now, sal)
	})
	return err
}
