package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"dnsscanner/internal/catalog"
	"dnsscanner/internal/domain"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 1000

var ErrEmptyCatalog = catalog.ErrEmptyCatalog

// RecencyLookup reports when a range was last scanned, or nil if it never was.
type RecencyLookup interface {
	LastScanAt(ctx context.Context, r domain.AddressRange) (*time.Time, error)
}

type Scheduler struct {
	lookup    RecencyLookup
	batchSize int
	logger    *log.Logger
}

type Option func(*Scheduler)

func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(lookup RecencyLookup, opts ...Option) *Scheduler {
	s := &Scheduler{
		lookup:    lookup,
		batchSize: DefaultBatchSize,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectNextRange picks the range to scan next: the lowest never-scanned range
// if any exists, otherwise the range whose newest record is oldest.
func (s *Scheduler) SelectNextRange(ctx context.Context, maxFirst, maxSecond int) (domain.AddressRange, error) {
	ordered, err := s.Recency(ctx, maxFirst, maxSecond)
	if err != nil {
		return domain.AddressRange{}, err
	}

	next := ordered[0]
	if next.Scanned() {
		s.logger.Info("Selected most outdated range", "range", next.Range.Label, "lastScanAt", next.LastScanAt.Format(time.RFC3339))
	} else {
		s.logger.Info("Selected unscanned range", "range", next.Range.Label)
	}
	return next.Range, nil
}

// Recency returns every catalog range with its last scan time, ordered the way
// SelectNextRange chooses.
func (s *Scheduler) Recency(ctx context.Context, maxFirst, maxSecond int) ([]domain.RangeRecency, error) {
	if s.lookup == nil {
		return nil, fmt.Errorf("scheduler: recency lookup is not configured")
	}

	total := catalog.Size(maxFirst, maxSecond)
	if total == 0 {
		return nil, ErrEmptyCatalog
	}

	results := make([]domain.RangeRecency, 0, total)
	batch := make([]domain.AddressRange, 0, min(s.batchSize, total))

	for r := range catalog.Partition(maxFirst, maxSecond) {
		batch = append(batch, r)
		if len(batch) < s.batchSize {
			continue
		}
		resolved, err := s.lookupBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, resolved...)
		batch = batch[:0]
	}

	if len(batch) > 0 {
		resolved, err := s.lookupBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, resolved...)
	}

	s.logger.Debug("Collected range recency", "ranges", len(results))

	sortByRecency(results)
	return results, nil
}

func (s *Scheduler) lookupBatch(ctx context.Context, batch []domain.AddressRange) ([]domain.RangeRecency, error) {
	resolved := make([]domain.RangeRecency, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)

	for i, r := range batch {
		g.Go(func() error {
			last, err := s.lookup.LastScanAt(gctx, r)
			if err != nil {
				return fmt.Errorf("scheduler: last scan of %s: %w", r.Label, err)
			}
			resolved[i] = domain.RangeRecency{Range: r, LastScanAt: last}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func sortByRecency(items []domain.RangeRecency) {
	slices.SortStableFunc(items, func(a, b domain.RangeRecency) int {
		switch {
		case !a.Scanned() && b.Scanned():
			return -1
		case a.Scanned() && !b.Scanned():
			return 1
		case a.Scanned() && b.Scanned():
			if c := a.LastScanAt.Compare(*b.LastScanAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Range.Start, b.Range.Start)
	})
}
