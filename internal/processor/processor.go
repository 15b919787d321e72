package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
)

// Router hands a single event to the modules interested in it.
type Router interface {
	ProcessEvent(ctx context.Context, event *core.RawEvent) error
}

// CursorSource reports the position of the last applied log.
type CursorSource interface {
	Cursor(ctx context.Context) (aggregator.Cursor, bool, error)
}

// Processor applies ordered batches of logs exactly once. Logs at or before
// the persisted cursor have already been applied and are dropped, so a failed
// batch can be handed in again as a whole.
type Processor struct {
	router  Router
	cursors CursorSource
	logger  zerolog.Logger

	mu       sync.Mutex
	position *aggregator.Cursor
}

// Stats summarizes one batch.
type Stats struct {
	Routed  int
	Skipped int
}

func New(router Router, cursors CursorSource, logger zerolog.Logger) *Processor {
	return &Processor{
		router:  router,
		cursors: cursors,
		logger:  logger.With().Str("component", "processor").Logger(),
	}
}

// Position returns the last applied log, loading it from the store on first use.
func (p *Processor) Position(ctx context.Context) (aggregator.Cursor, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadPosition(ctx)
}

func (p *Processor) loadPosition(ctx context.Context) (aggregator.Cursor, bool, error) {
	if p.position != nil {
		return *p.position, true, nil
	}
	cursor, found, err := p.cursors.Cursor(ctx)
	if err != nil {
		return aggregator.Cursor{}, false, fmt.Errorf("failed to load cursor: %w", err)
	}
	if found {
		p.position = &cursor
	}
	return cursor, found, nil
}

// Process sorts events by (block, log index) and routes each one after the
// cursor. It stops at the first routing error.
func (p *Processor) Process(ctx context.Context, events []*core.RawEvent) (Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats Stats
	if len(events) == 0 {
		return stats, nil
	}

	SortEvents(events)

	cursor, found, err := p.loadPosition(ctx)
	if err != nil {
		return stats, err
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		log := event.Log
		if found && !cursor.After(log.BlockNumber, uint64(log.Index)) {
			stats.Skipped++
			continue
		}

		if err := p.router.ProcessEvent(ctx, event); err != nil {
			// Part of the unit may have been rolled back. Reload on the next batch.
			p.position = nil
			return stats, fmt.Errorf("failed to process log %d in block %d: %w", log.Index, log.BlockNumber, err)
		}

		cursor = aggregator.Cursor{BlockNumber: log.BlockNumber, LogIndex: uint64(log.Index)}
		found = true
		p.position = &cursor
		stats.Routed++
	}

	p.logger.Debug().
		Int("routed", stats.Routed).
		Int("skipped", stats.Skipped).
		Uint64("block", cursor.BlockNumber).
		Msg("Processed batch")

	return stats, nil
}

// SortEvents orders events by block number, then log index.
func SortEvents(events []*core.RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Log, events[j].Log
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.Index < b.Index
	})
}
