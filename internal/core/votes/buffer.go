package votes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Agora/internal/metrics"
	"Agora/internal/queue"
	"Agora/internal/worker"
)

var voteCodec = queue.MustCodec("vote", queuedVoteSchema)

// Buffer absorbs vote casts and merges them into the vote table on a timer.
//
// Casts are coalesced per (user, opinion) in the queue store by an atomic
// compare-and-swap on the cast timestamp. A flush pops a batch atomically
// and keeps it in memory until the relational write succeeds, so a failed
// write is retried on the next cycle without re-reading the queue.
type Buffer struct {
	store   queue.Store
	repo    Repository
	math    MathEngine
	results ResultStore
	cfg     Config
	logger  *slog.Logger
	loop    *worker.Periodic

	flushMu  sync.Mutex
	inflight Batch

	mathMu      sync.Mutex
	mathPending map[int64]bool
	mathSem     chan struct{}
	mathWG      sync.WaitGroup
	mathCtx     context.Context
	mathCancel  context.CancelFunc

	closeMu sync.RWMutex
	closed  bool
}

// NewBuffer creates a vote buffer. math and results may be nil to disable
// recomputation.
func NewBuffer(store queue.Store, repo Repository, math MathEngine, results ResultStore, cfg Config, logger *slog.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	mathCtx, mathCancel := context.WithCancel(context.Background())
	b := &Buffer{
		store:       store,
		repo:        repo,
		math:        math,
		results:     results,
		cfg:         cfg,
		logger:      logger,
		inflight:    make(Batch),
		mathPending: make(map[int64]bool),
		mathSem:     make(chan struct{}, cfg.MathConcurrency),
		mathCtx:     mathCtx,
		mathCancel:  mathCancel,
	}
	b.loop = worker.NewPeriodic("VOTE-BUFFER", cfg.FlushInterval, b.Flush,
		worker.WithMaxBackoff(cfg.MaxBackoff),
		worker.WithLogger(logger),
	)
	return b, nil
}

// CastVote queues a vote. It returns once the cast is recorded in the
// queue store; a cast older than the one already queued for the same pair
// is accepted and ignored.
func (b *Buffer) CastVote(ctx context.Context, v VoteRecord) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBufferClosed
	}

	if v.CastAt.IsZero() {
		v.CastAt = time.Now()
	}
	v.CastAt = v.CastAt.UTC().Truncate(time.Millisecond)
	if err := v.Validate(); err != nil {
		return err
	}

	written, err := b.enqueue(ctx, v)
	if err != nil {
		return err
	}
	if written {
		metrics.VotesCast.Inc()
	} else {
		metrics.VotesSuperseded.Inc()
	}
	return nil
}

func (b *Buffer) enqueue(ctx context.Context, v VoteRecord) (bool, error) {
	payload, err := voteCodec.Encode(toQueued(v))
	if err != nil {
		return false, err
	}
	written, err := b.store.UpsertIfNewer(ctx, queue.VoteIndexKey, queue.VoteDataKey,
		v.Key(), v.CastAt.UnixMilli(), payload)
	if err != nil {
		return false, fmt.Errorf("failed to queue vote: %w", err)
	}
	return written, nil
}

// Flush runs one cycle. A batch held from a failed cycle is retried first
// and nothing more is popped until it commits, so at most one batch lives
// outside the queue store at a time. Concurrent calls are serialized.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if len(b.inflight) > 0 {
		if err := b.writeHeld(ctx); err != nil {
			return err
		}
	}

	entries, err := b.store.PopSorted(ctx, queue.VoteIndexKey, queue.VoteDataKey, b.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("failed to pop vote batch: %w", err)
	}

	for _, e := range entries {
		var q queuedVote
		if err := voteCodec.Decode(e.Payload, &q); err != nil {
			metrics.VotesDiscarded.Inc()
			b.logger.Warn("[VOTE-BUFFER] discarding undecodable vote entry",
				"member", e.Member,
				"error", err,
			)
			continue
		}
		b.inflight.Merge(q.record())
	}
	metrics.VotesInFlight.Set(float64(len(b.inflight)))

	if len(b.inflight) == 0 {
		return nil
	}
	return b.writeHeld(ctx)
}

// writeHeld writes the in-flight set and schedules recomputation for every
// conversation a committed chunk touched.
func (b *Buffer) writeHeld(ctx context.Context) error {
	start := time.Now()
	conversations, err := b.writeInflight(ctx)
	metrics.VotesInFlight.Set(float64(len(b.inflight)))
	if len(conversations) > 0 {
		b.scheduleRecompute(conversations)
	}
	if err != nil {
		metrics.VoteFlushFailures.Inc()
		b.logger.Warn("[VOTE-BUFFER] relational write failed, batch held for retry",
			"error", err,
			"in_flight", len(b.inflight),
		)
		return err
	}
	metrics.VoteFlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

// writeInflight writes the in-flight set in chunks and drops every chunk
// that committed. It returns the conversations touched by committed chunks.
func (b *Buffer) writeInflight(ctx context.Context) ([]int64, error) {
	records := b.inflight.Records()
	seen := make(map[int64]bool)
	var conversations []int64

	for start := 0; start < len(records); start += b.cfg.TxChunkSize {
		end := start + b.cfg.TxChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		res, err := b.repo.ApplyBatch(ctx, chunk)
		if err != nil {
			return conversations, fmt.Errorf("failed to apply vote batch: %w", err)
		}
		for _, v := range chunk {
			delete(b.inflight, v.Key())
		}
		for _, id := range res.Conversations {
			if !seen[id] {
				seen[id] = true
				conversations = append(conversations, id)
			}
		}
		metrics.VotesFlushed.Add(float64(res.Written))
		b.logger.Debug("[VOTE-BUFFER] batch written",
			"written", res.Written,
			"skipped_older", res.Skipped,
			"conversations", len(res.Conversations),
		)
	}
	return conversations, nil
}

// scheduleRecompute triggers at most one pending recomputation per
// conversation. Recomputation never blocks the flush path.
func (b *Buffer) scheduleRecompute(conversations []int64) {
	if b.math == nil {
		return
	}
	for _, id := range conversations {
		b.mathMu.Lock()
		if b.mathPending[id] {
			b.mathMu.Unlock()
			continue
		}
		b.mathPending[id] = true
		b.mathMu.Unlock()

		b.mathWG.Add(1)
		go b.recompute(id)
	}
}

func (b *Buffer) recompute(conversationID int64) {
	defer b.mathWG.Done()

	select {
	case b.mathSem <- struct{}{}:
	case <-b.mathCtx.Done():
		b.clearPending(conversationID)
		return
	}
	defer func() { <-b.mathSem }()

	// Cleared before loading votes so casts flushed during the
	// recomputation schedule another pass.
	b.clearPending(conversationID)

	err := worker.Safe(func() error {
		ctx, cancel := context.WithTimeout(b.mathCtx, b.cfg.MathTimeout)
		defer cancel()

		votes, err := b.repo.ListByConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("failed to load votes: %w", err)
		}
		result, err := b.math.Recompute(ctx, conversationID, votes)
		if err != nil {
			return fmt.Errorf("failed to recompute: %w", err)
		}
		if b.results != nil && result != nil {
			if err := b.results.SaveClusteringResult(ctx, result); err != nil {
				return fmt.Errorf("failed to save result: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.MathRecomputations.WithLabelValues("error").Inc()
		b.logger.Error("[VOTE-BUFFER] consensus recomputation failed",
			"conversation", conversationID,
			"error", err,
		)
		return
	}
	metrics.MathRecomputations.WithLabelValues("ok").Inc()
}

func (b *Buffer) clearPending(conversationID int64) {
	b.mathMu.Lock()
	delete(b.mathPending, conversationID)
	b.mathMu.Unlock()
}

// Size reports queued plus in-flight votes.
func (b *Buffer) Size(ctx context.Context) (int64, error) {
	queued, err := b.store.Len(ctx, queue.VoteIndexKey)
	if err != nil {
		return 0, err
	}
	b.flushMu.Lock()
	inflight := len(b.inflight)
	b.flushMu.Unlock()
	return queued + int64(inflight), nil
}

// Start launches the flush loop.
func (b *Buffer) Start(ctx context.Context) {
	b.loop.Start(ctx)
}

// Shutdown stops the flush loop, runs a final flush and waits for pending
// recomputations, all within ctx's deadline. If the final flush fails the
// in-flight batch is put back into the queue; last-writer-wins makes that
// safe against newer casts queued meanwhile.
func (b *Buffer) Shutdown(ctx context.Context) error {
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()

	var errs []error
	if err := b.loop.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := b.Flush(ctx); err != nil {
		b.logger.Error("[VOTE-BUFFER] final flush failed, requeueing in-flight votes", "error", err)
		if reqErr := b.requeueInflight(context.WithoutCancel(ctx)); reqErr != nil {
			errs = append(errs, reqErr)
		}
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		b.mathWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("[VOTE-BUFFER] abandoning pending recomputations at shutdown")
		errs = append(errs, ctx.Err())
	}
	b.mathCancel()

	return errors.Join(errs...)
}

func (b *Buffer) requeueInflight(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var lost int
	for key, v := range b.inflight {
		if _, err := b.enqueue(ctx, v); err != nil {
			lost++
			continue
		}
		delete(b.inflight, key)
	}
	if lost > 0 {
		b.logger.Error("[VOTE-BUFFER] CRITICAL: votes lost at shutdown", "count", lost)
		return fmt.Errorf("failed to requeue %d votes", lost)
	}
	return nil
}
