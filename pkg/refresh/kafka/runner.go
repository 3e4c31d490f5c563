// Package kafka consumes feature edit notifications and refreshes the
// grids bound to the edited layer.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
)

// Purger drops cached pages of a layer.
type Purger interface {
	Purge(ctx context.Context, layerURL string) (int, error)
}

// Refresher re-reads count and schema for every grid bound to a layer and
// reports how many grids it touched.
type Refresher interface {
	Refresh(ctx context.Context, layerURL string) int
}

type Runner struct {
	log       *slog.Logger
	cfg       RefreshConfig
	purger    Purger
	refresher Refresher
	ms        *refreshMetrics
	ver       *versionDedupe
	assigned  atomic.Bool
	assignMu  sync.RWMutex
	assign    map[int32]struct{}
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// Purger is optional; without a page cache only the refresh runs.
	Purger Purger
}

func New(cfg RefreshConfig, refresher Refresher, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:       opts.Logger,
		cfg:       cfg,
		purger:    opts.Purger,
		refresher: refresher,
		ms:        newRefreshMetrics(opts.Register),
		ver:       newVersionDedupe(1024),
		assign:    map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("refresh runner disabled")
		return nil
	}
	if r.refresher == nil {
		return errors.New("kafka runner: refresher dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka refresh runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka refresh runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// Malformed messages are counted and skipped so one bad record cannot stall
// the partition. Only purge failures are returned.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	r.ms.lag(msg.Timestamp)

	var w WireEvent
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		r.ms.result(resultInvalid)
		r.log.Warn("skipping undecodable feature edit", "offset", msg.Offset, "err", err)
		return nil
	}
	w.Layer = strings.TrimRight(strings.TrimSpace(w.Layer), "/")
	if w.Layer == "" {
		r.ms.result(resultInvalid)
		r.log.Warn("skipping feature edit without layer", "offset", msg.Offset)
		return nil
	}

	if err := r.apply(ctx, w); err != nil {
		r.ms.result(resultError)
		return err
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, w WireEvent) error {
	if !r.ver.shouldApply(w.Layer, w.Version) {
		r.ms.result(resultDuplicate)
		return nil
	}
	start := time.Now()

	var pages int
	if r.purger != nil {
		n, err := r.purger.Purge(ctx, w.Layer)
		if err != nil {
			return fmt.Errorf("purge %s: %w", w.Layer, err)
		}
		pages = n
	}

	panels := r.refresher.Refresh(ctx, w.Layer)
	r.ms.applied(w, pages, panels, time.Since(start))
	r.log.Info("layer refreshed", "layer", w.Layer, "version", w.Version, "pages_purged", pages, "panels", panels)
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
