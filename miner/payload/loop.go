package payload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethcorego/execution-core/store/errkind"
)

// PayloadID identifies one in-progress or completed build, assigned by
// the caller of InitiatePayloadBuild (the engine API layer, not part of
// this package).
type PayloadID [8]byte

// entry is one slot in the builder's bounded FIFO, per SPEC_FULL.md
// §4.4/§5: a single lock guards the map and insertion order, eviction
// happens at MaxPayloads.
type entry struct {
	id     PayloadID
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	latest  *Result
	buildErr error
}

func (e *entry) set(res *Result) {
	e.mu.Lock()
	e.latest = res
	e.mu.Unlock()
}

func (e *entry) setErr(err error) {
	e.mu.Lock()
	e.buildErr = err
	e.mu.Unlock()
}

func (e *entry) snapshot() (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest, e.buildErr
}

// Builder is the single-owner payload cache described by SPEC_FULL.md
// §4.4 and §5: InitiatePayloadBuild spawns a cooperative build loop,
// GetPayload cancels it and returns the latest completed result.
type Builder struct {
	mu      sync.Mutex
	order   []PayloadID
	entries map[PayloadID]*entry

	newInputs func(PayloadID) (BuildInputs, error)
}

// NewBuilder constructs an empty builder. newInputs resolves a payload
// id to the BuildInputs for its first (and every subsequent rebuild's)
// buildPayload call; callers typically close over a fork-choice handle
// so each rebuild observes the current mempool state.
func NewBuilder(newInputs func(PayloadID) (BuildInputs, error)) *Builder {
	return &Builder{
		entries:   make(map[PayloadID]*entry),
		newInputs: newInputs,
	}
}

// InitiatePayloadBuild registers id and starts its cooperative build
// loop (SPEC_FULL.md §4.4.1). Evicts the oldest entry first if the
// bounded FIFO is already at MaxPayloads.
func (b *Builder) InitiatePayloadBuild(id PayloadID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[id]; exists {
		return
	}
	if len(b.order) >= MaxPayloads {
		oldest := b.order[0]
		b.order = b.order[1:]
		if old, ok := b.entries[oldest]; ok {
			old.cancel()
			delete(b.entries, oldest)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{id: id, cancel: cancel, done: make(chan struct{})}
	b.entries[id] = e
	b.order = append(b.order, id)

	go b.runLoop(ctx, e)
}

// runLoop is the build loop of SPEC_FULL.md §4.4.1: produce an initial
// result, then keep rebuilding and replacing it until the slot deadline
// elapses or the context is cancelled, at which point the last
// completed result stands.
func (b *Builder) runLoop(ctx context.Context, e *entry) {
	defer close(e.done)

	deadline := time.Now().Add(SecondsPerSlot)

	build := func() bool {
		start := time.Now()
		in, err := b.newInputs(e.id)
		if err != nil {
			e.setErr(fmt.Errorf("payload: resolve build inputs: %w", err))
			return false
		}
		res, err := buildPayload(in)
		buildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			e.setErr(err)
			return false
		}
		e.set(res)
		return true
	}

	if !build() {
		return
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if build() {
			rebuildsTotal.Inc()
		}
	}
}

// GetPayload cancels id's build loop, if still running, and returns the
// latest completed result. Per SPEC_FULL.md §7, an unknown id reports
// errkind.ErrNotFound; a completed-with-error entry that never produced
// a single result reports that error rather than a zero Result.
func (b *Builder) GetPayload(id PayloadID) (*Result, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("payload: unknown payload id %x: %w", id, errkind.ErrNotFound)
	}

	e.cancel()
	<-e.done

	res, err := e.snapshot()
	if res != nil {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("payload: build for %x never completed: %w", id, errkind.ErrInternal)
}
