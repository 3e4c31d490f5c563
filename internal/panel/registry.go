package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/core/arcgis"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
)

var (
	ErrNotLoaded           = errors.New("panels not loaded")
	ErrNoSuchPanel         = errors.New("no such panel")
	ErrAlreadyBootstrapped = errors.New("panels already bootstrapped")
	ErrNoSuchSession       = errors.New("no such session")
	ErrClosed              = errors.New("panels closed")
)

const (
	defaultSkip = 0
	defaultTake = 10
)

// Resolver finds the sublayers to show.
type Resolver interface {
	ResolveTitles(ctx context.Context, titles []string) (found []arcgis.Sublayer, missing []string, err error)
}

// UpstreamFunc opens the remote collection behind one layer URL.
type UpstreamFunc func(layerURL string) collection.Upstream

type Config struct {
	Titles         []string
	PageSize       int
	StreamOpts     []collection.StreamOption
	DatasourceOpts []collection.DatasourceOption
}

// Registry is the root of the page: the resolved layers and their panels.
// Paged panels come first, so a tab index below PagedCount selects a paged grid.
type Registry struct {
	cfg      Config
	resolver Resolver
	open     UpstreamFunc
	logger   *slog.Logger

	mu       sync.RWMutex
	started  bool
	layers   []arcgis.Sublayer
	panels   []*Panel
	paged    int
	loaded   bool
	closed   bool
	sessions map[string]*Session
}

func NewRegistry(cfg Config, resolver Resolver, open UpstreamFunc, logger *slog.Logger) *Registry {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		resolver: resolver,
		open:     open,
		logger:   logger,
		sessions: map[string]*Session{},
	}
}

// Bootstrap resolves the configured layers, builds their panels and waits
// for every panel to load its count and schema.
func (r *Registry) Bootstrap(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyBootstrapped
	}
	r.started = true
	r.mu.Unlock()

	ctx = logger.WithComponent(ctx, "panels")
	found, missing, err := r.resolver.ResolveTitles(ctx, r.cfg.Titles)
	if err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
		return fmt.Errorf("resolve layers: %w", err)
	}
	for _, t := range missing {
		r.logger.WarnContext(ctx, "layer not found in map service", "title", t)
	}

	panels := make([]*Panel, 0, 2*len(found))
	for _, l := range found {
		name := l.Title + " (paged)"
		panels = append(panels, &Panel{
			Name:  name,
			Kind:  KindPaged,
			Layer: l,
			a:     collection.NewAdapter(name, r.open(l.URL), r.logger),
		})
	}
	for _, l := range found {
		name := l.Title + " (infinite)"
		a := collection.NewAdapter(name, r.open(l.URL), r.logger)
		panels = append(panels, &Panel{
			Name:  name,
			Kind:  KindInfinite,
			Layer: l,
			ds:    collection.NewDatasource(a, r.logger, r.cfg.DatasourceOpts...),
		})
	}
	for i, p := range panels {
		p.Index = i
	}

	r.mu.Lock()
	r.layers = found
	r.panels = panels
	r.paged = len(found)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range panels {
		wg.Add(1)
		go func(p *Panel) {
			defer wg.Done()
			p.adapter().Init(ctx)
		}(p)
	}
	wg.Wait()

	for _, p := range panels {
		p.updateSettings(r.cfg.PageSize)
	}

	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "panels loaded", "layers", len(found), "panels", len(panels))
	return nil
}

func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *Registry) PageSize() int { return r.cfg.PageSize }

// PagedCount is the number of paged panels, which lead the panel list.
func (r *Registry) PagedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paged
}

func (r *Registry) Layers() ([]arcgis.Sublayer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	return append([]arcgis.Sublayer(nil), r.layers...), nil
}

func (r *Registry) Panels() ([]*Panel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	return append([]*Panel(nil), r.panels...), nil
}

func (r *Registry) Panel(index int) (*Panel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	if index < 0 || index >= len(r.panels) {
		return nil, fmt.Errorf("panel %d: %w", index, ErrNoSuchPanel)
	}
	return r.panels[index], nil
}

func (r *Registry) pagedPanel(index int) (*Panel, error) {
	p, err := r.Panel(index)
	if err != nil {
		return nil, err
	}
	if p.Kind != KindPaged {
		return nil, fmt.Errorf("panel %d is not paged: %w", index, ErrNoSuchPanel)
	}
	return p, nil
}

// DataState is a paged grid's requested window. Nil fields take the defaults.
type DataState struct {
	Skip *int
	Take *int
}

// DataStateChange requests the window a paged grid moved to. Rows arrive on
// the session's stream for that panel.
func (r *Registry) DataStateChange(ctx context.Context, sessionID string, index int, st DataState) error {
	sess, err := r.lookupSession(sessionID)
	if err != nil {
		return err
	}
	return sess.DataStateChange(ctx, index, st)
}

// LoadFirst loads the first page of the first paged panel for a session.
func (r *Registry) LoadFirst(ctx context.Context, sessionID string) error {
	sess, err := r.lookupSession(sessionID)
	if err != nil {
		return err
	}
	return sess.LoadFirst(ctx)
}

// SelectTab loads the first page of a paged panel the first time a session
// shows its tab. Infinite grids request their own blocks, so other tabs are
// no-ops.
func (r *Registry) SelectTab(ctx context.Context, sessionID string, index int) error {
	sess, err := r.lookupSession(sessionID)
	if err != nil {
		return err
	}
	return sess.SelectTab(ctx, index)
}

// Refresh reloads count and schema of every panel bound to layerURL and
// returns how many panels were refreshed.
func (r *Registry) Refresh(ctx context.Context, layerURL string) int {
	panels, err := r.Panels()
	if err != nil {
		return 0
	}
	want := strings.TrimRight(layerURL, "/")

	var (
		wg sync.WaitGroup
		n  int
	)
	for _, p := range panels {
		if strings.TrimRight(p.Layer.URL, "/") != want {
			continue
		}
		n++
		wg.Add(1)
		go func(p *Panel) {
			defer wg.Done()
			p.adapter().Init(ctx)
			p.updateSettings(r.cfg.PageSize)
		}(p)
	}
	wg.Wait()
	return n
}

// Close ends every session and closes their streams. Sessions cannot be
// opened afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}
