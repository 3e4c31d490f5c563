package panel

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
)

// Session is one browser's view of the paged panels. It owns one Stream per
// paged panel over the panel's shared adapter, so page requests, superseded
// responses and the first-load flag never cross between browsers.
type Session struct {
	ID  string
	reg *Registry

	mu      sync.Mutex
	refs    int
	closed  bool
	streams map[int]*collection.Stream
}

// OpenSession attaches to the session with id, creating it when it does not
// exist. An empty id creates a fresh session. Every call must be paired with
// Release.
func (r *Registry) OpenSession(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	if r.closed {
		return nil, ErrClosed
	}
	if id == "" {
		id = logger.NewID()
	}
	sess, ok := r.sessions[id]
	if !ok {
		sess = &Session{ID: id, reg: r, streams: map[int]*collection.Stream{}}
		r.sessions[id] = sess
		r.logger.Debug("session opened", "session", id)
	}
	sess.mu.Lock()
	sess.refs++
	sess.mu.Unlock()
	return sess, nil
}

func (r *Registry) lookupSession(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNoSuchSession)
	}
	return sess, nil
}

// Sessions is the number of open sessions.
func (r *Registry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Release drops one attachment. The last release ends the session and
// closes its streams.
func (s *Session) Release() {
	r := s.reg
	r.mu.Lock()
	s.mu.Lock()
	if s.refs > 0 {
		s.refs--
	}
	last := s.refs == 0
	if last && r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
	s.mu.Unlock()
	r.mu.Unlock()

	if last {
		s.close()
		r.logger.Debug("session closed", "session", s.ID)
	}
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	streams := make([]*collection.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
}

// Stream returns the session's stream for a paged panel, creating it on
// first use.
func (s *Session) Stream(index int) (*collection.Stream, error) {
	p, err := s.reg.pagedPanel(index)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamLocked(p)
}

func (s *Session) streamLocked(p *Panel) (*collection.Stream, error) {
	if s.closed {
		return nil, collection.ErrStreamClosed
	}
	st, ok := s.streams[p.Index]
	if !ok {
		st = collection.NewStream(p.a, s.reg.logger, s.reg.cfg.StreamOpts...)
		s.streams[p.Index] = st
	}
	return st, nil
}

// DataStateChange requests the window a paged grid moved to. Nil fields take
// skip 0 and take 10.
func (s *Session) DataStateChange(ctx context.Context, index int, st DataState) error {
	stream, err := s.Stream(index)
	if err != nil {
		return err
	}
	skip, take := defaultSkip, defaultTake
	if st.Skip != nil {
		skip = *st.Skip
	}
	if st.Take != nil {
		take = *st.Take
	}
	return stream.GetRows(ctx, skip, take)
}

// LoadFirst loads the first page of the first paged panel, if any.
func (s *Session) LoadFirst(ctx context.Context) error {
	if s.reg.PagedCount() == 0 {
		return nil
	}
	stream, err := s.Stream(0)
	if err != nil {
		return err
	}
	return stream.GetRows(ctx, 0, s.reg.cfg.PageSize)
}

func (s *Session) SelectTab(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("tab %d: %w", index, ErrNoSuchPanel)
	}
	if index >= s.reg.PagedCount() {
		return nil
	}
	p, err := s.reg.pagedPanel(index)
	if err != nil {
		return err
	}

	// held across the check so a double click issues one load
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, err := s.streamLocked(p)
	if err != nil {
		return err
	}
	if stream.InitialLoadIssued() {
		return nil
	}
	return stream.GetRows(ctx, 0, s.reg.cfg.PageSize)
}
