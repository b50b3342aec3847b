// Package wal implements the generic-WAL wrapper described in spec.md §4.5
// and §6: HNSW neighbor linking and IVFFlat posting-chain extension bracket
// their multi-page changes so that, on replay, the on-disk state reflects
// either the full change or none of it. Other writes (element and meta
// pages, the IVFFlat list directory, HNSW vacuum) are not bracketed.
package wal

import (
	"fmt"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/storage"
)

// Record is one committed WAL bracket: the post-mutation bytes of every
// page the bracket touched, keyed by block number.
type Record struct {
	LSN    uint64
	Op     string
	Pages  map[uint64][]byte
}

// WAL is an append-only log of committed brackets plus the logger/tracer
// used to narrate them. It does not itself own a PageStore: brackets write
// through the BufferManager they were opened against, and the WAL's own
// records exist purely for replay/audit.
type WAL struct {
	mu      sync.Mutex
	nextLSN uint64
	records []Record

	logger zerolog.Logger
	tracer opentracing.Tracer
}

// New returns a WAL that logs through logger and traces through tracer. A
// nil tracer falls back to opentracing.NoopTracer.
func New(logger zerolog.Logger, tracer opentracing.Tracer) *WAL {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	return &WAL{logger: logger, tracer: tracer}
}

// Bracket is one in-flight multi-page change. Every buffer a bracket
// mutates must be MarkDirty'd by the caller before Commit; Commit releases
// every tracked buffer (writing dirty ones) and appends a replay record.
type Bracket struct {
	wal     *WAL
	op      string
	span    opentracing.Span
	buffers []*storage.Buffer
	done    bool
}

// Begin opens a new bracket for operation name op (e.g. "hnsw.insert",
// "ivf.load"), starting a trace span of the same name.
func (w *WAL) Begin(op string) *Bracket {
	span := w.tracer.StartSpan(op)
	return &Bracket{wal: w, op: op, span: span}
}

// Track registers buf as part of this bracket. buf must already be
// exclusively locked; the bracket releases it on Commit or Abort.
func (b *Bracket) Track(buf *storage.Buffer) {
	b.buffers = append(b.buffers, buf)
}

// Commit releases every tracked buffer (flushing dirty ones through the
// buffer manager) and appends a replay record capturing their committed
// bytes, making the bracket durable.
func (b *Bracket) Commit() error {
	if b.done {
		return fmt.Errorf("wal: bracket %q already closed", b.op)
	}
	b.done = true
	defer b.span.Finish()

	pages := make(map[uint64][]byte, len(b.buffers))
	for _, buf := range b.buffers {
		pages[buf.BlockNo()] = buf.Page().Encode()
	}

	var firstErr error
	for _, buf := range b.buffers {
		if err := buf.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		b.wal.logger.Error().Str("op", b.op).Err(firstErr).Msg("wal: bracket commit failed to flush a page")
		return firstErr
	}

	b.wal.mu.Lock()
	b.wal.nextLSN++
	lsn := b.wal.nextLSN
	b.wal.records = append(b.wal.records, Record{LSN: lsn, Op: b.op, Pages: pages})
	b.wal.mu.Unlock()

	b.wal.logger.Debug().Str("op", b.op).Uint64("lsn", lsn).Int("pages", len(pages)).Msg("wal: committed bracket")
	return nil
}

// Abort releases every tracked buffer without requiring their writes to
// have landed; used on the validation-error and cancellation paths of
// spec.md §7 where the current operation aborts cleanly.
func (b *Bracket) Abort() {
	if b.done {
		return
	}
	b.done = true
	defer b.span.Finish()
	for i := len(b.buffers) - 1; i >= 0; i-- {
		_ = b.buffers[i].Release()
	}
	b.wal.logger.Warn().Str("op", b.op).Msg("wal: bracket aborted")
}

// Replay reapplies every committed record, in LSN order, to store. This
// models crash recovery: replaying a WAL that was fully written leaves the
// store in the same state it was in when each bracket committed.
func (w *WAL) Replay(store storage.PageStore) error {
	w.mu.Lock()
	records := append([]Record(nil), w.records...)
	w.mu.Unlock()

	for _, rec := range records {
		for blockno, raw := range rec.Pages {
			page, err := storage.DecodePage(raw)
			if err != nil {
				return fmt.Errorf("wal: replay lsn %d block %d: %w", rec.LSN, blockno, err)
			}
			if err := store.Write(blockno, page); err != nil {
				return fmt.Errorf("wal: replay lsn %d block %d: %w", rec.LSN, blockno, err)
			}
		}
	}
	return nil
}

// LSN returns the most recently assigned log sequence number.
func (w *WAL) LSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// StartSpan opens a trace span for an operation that doesn't itself bracket
// any page mutation (a top-level Insert or KnnSearch call, say, which may
// internally open its own Bracket for the pages it touches).
func (w *WAL) StartSpan(op string) opentracing.Span {
	return w.tracer.StartSpan(op)
}
