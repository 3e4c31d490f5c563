package collection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/core/observability"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
)

var ErrStreamClosed = errors.New("stream closed")

// FailureMode selects what subscribers see when a push fetch fails.
type FailureMode int

const (
	// DropOnFailure logs the failure and emits nothing for that request.
	DropOnFailure FailureMode = iota
	// EmitFailureEvent emits a PageEvent with Err set.
	EmitFailureEvent
)

// StalePolicy selects what happens to a response whose request was superseded.
type StalePolicy int

const (
	// DiscardSuperseded drops a response when a newer request was issued after it.
	DiscardSuperseded StalePolicy = iota
	// DeliverAll emits every response in completion order.
	DeliverAll
)

type PageEvent struct {
	Seq     uint64
	Request model.PageRequest
	Result  model.PageResult
	Err     error
}

type StreamOption func(*Stream)

func WithFailureMode(m FailureMode) StreamOption {
	return func(s *Stream) { s.failure = m }
}

func WithStalePolicy(p StalePolicy) StreamOption {
	return func(s *Stream) { s.stale = p }
}

// Stream is the push facade: each completed fetch is emitted to every
// current subscriber, matching a reactive grid's state-change contract.
// Several streams may share one Adapter; sequence numbers and the first-load
// flag belong to the stream.
type Stream struct {
	a       *Adapter
	logger  *slog.Logger
	failure FailureMode
	stale   StalePolicy

	seq        atomic.Uint64
	loadIssued atomic.Bool

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

func NewStream(a *Adapter, logger *slog.Logger, opts ...StreamOption) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		a:       a,
		logger:  logger,
		subs:    map[*Subscription]struct{}{},
		closing: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Stream) Adapter() *Adapter { return s.a }

func (s *Stream) Init(ctx context.Context) { s.a.Init(ctx) }

// InitialLoadIssued reports whether this stream has issued a fetch. Streams
// sharing an adapter track it separately.
func (s *Stream) InitialLoadIssued() bool { return s.loadIssued.Load() }

func (s *Stream) Columns() []model.ColumnDescriptor { return s.a.Columns() }

func (s *Stream) Metadata() (model.CollectionMetadata, bool) { return s.a.Metadata() }

type Subscription struct {
	s    *Stream
	ch   chan PageEvent
	done chan struct{}
	once sync.Once
}

// C delivers events until the stream is closed.
func (sub *Subscription) C() <-chan PageEvent { return sub.ch }

func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subs, sub)
		sub.s.mu.Unlock()
		close(sub.done)
	})
}

func (s *Stream) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	sub := &Subscription{
		s:    s,
		ch:   make(chan PageEvent, buffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// GetRows issues a fetch for [start, start+count) and returns immediately.
// The fetch is detached from ctx cancellation; once issued it runs to
// completion or failure. Only window validation is reported synchronously.
func (s *Stream) GetRows(ctx context.Context, start, count int) error {
	req := model.PageRequest{Start: start, Count: count}
	if !req.Valid() {
		return ErrInvalidWindow
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.loadIssued.Store(true)
	s.a.markLoadIssued()
	seq := s.seq.Add(1)

	ctx = context.WithoutCancel(ctx)
	ctx = logger.WithCollection(ctx, s.a.Name())
	ctx = logger.WithFacade(ctx, observability.FacadePush)

	go func() {
		defer s.wg.Done()
		s.run(ctx, seq, req)
	}()
	return nil
}

func (s *Stream) run(ctx context.Context, seq uint64, req model.PageRequest) {
	res, err := s.a.fetchWindow(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "error getting features",
			"start", req.Start, "count", req.Count, "err", err)
	}

	// each request is counted under exactly one outcome
	if s.stale == DiscardSuperseded && seq < s.seq.Load() {
		s.logger.DebugContext(ctx, "discarding superseded page",
			"seq", seq, "start", req.Start, "count", req.Count)
		observability.IncGridFetch(observability.FacadePush, observability.OutcomeStale)
		return
	}

	if err != nil {
		observability.IncGridFetch(observability.FacadePush, observability.OutcomeError)
		if s.failure == EmitFailureEvent {
			s.emit(PageEvent{Seq: seq, Request: req, Err: err})
		}
		return
	}

	observability.IncGridFetch(observability.FacadePush, observability.OutcomeOK)
	s.emit(PageEvent{Seq: seq, Request: req, Result: res})
}

func (s *Stream) emit(ev PageEvent) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// buffer full: wait for the reader unless it leaves or the stream shuts down
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-s.closing:
		}
	}
}

// Close waits for in-flight fetches and closes every subscriber channel.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
	s.mu.Unlock()
}
