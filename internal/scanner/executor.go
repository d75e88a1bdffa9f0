package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency    = 128
	DefaultProbeTimeout   = time.Second
	DefaultResolveTimeout = 2 * time.Second

	// Probes answering below this status count as unreachable.
	minSuccessStatus = 200
)

var ErrInvalidSpan = errors.New("scanner: span start is after span end")

type Prober interface {
	Probe(ctx context.Context, addr ipv4.Address) (int, error)
}

type Resolver interface {
	ResolveHost(ctx context.Context, addr ipv4.Address) (string, error)
}

type Enricher interface {
	Enrich(record *domain.ScanRecord)
}

// Sink receives settled records in ascending address order. A returned error
// stops the scan.
type Sink func(ctx context.Context, record domain.ScanRecord) error

type Progress struct {
	Done    uint64
	Total   uint64
	Percent float64
	Last    ipv4.Address
}

type Executor struct {
	prober         Prober
	resolver       Resolver
	enricher       Enricher
	concurrency    int
	probeTimeout   time.Duration
	resolveTimeout time.Duration
	logger         *log.Logger
	progress       func(Progress)
	now            func() time.Time
}

type Option func(*Executor)

func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

func WithResolveTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.resolveTimeout = d
		}
	}
}

func WithEnricher(enricher Enricher) Option {
	return func(e *Executor) {
		e.enricher = enricher
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithProgress(fn func(Progress)) Option {
	return func(e *Executor) {
		e.progress = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(prober Prober, resolver Resolver, opts ...Option) *Executor {
	e := &Executor{
		prober:         prober,
		resolver:       resolver,
		concurrency:    DefaultConcurrency,
		probeTimeout:   DefaultProbeTimeout,
		resolveTimeout: DefaultResolveTimeout,
		logger:         log.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Concurrency() int {
	return e.concurrency
}

// ScanSpan probes every address of span in batches of at most Concurrency
// addresses. A batch starts only after the previous one settled, and its
// records reach sink in address order, so the last record handed to sink is
// always a contiguous prefix of the span.
func (e *Executor) ScanSpan(ctx context.Context, span domain.Span, sink Sink) error {
	if !span.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidSpan, span)
	}
	if e.prober == nil {
		return fmt.Errorf("scanner: prober is not configured")
	}
	if sink == nil {
		return fmt.Errorf("scanner: record sink is not configured")
	}

	total := span.Size()
	var done uint64

	e.logger.Info("Scanning span", "from", span.Start, "to", span.End, "addresses", total, "concurrency", e.concurrency)

	batchStart := uint64(span.Start)
	for batchStart <= uint64(span.End) {
		if err := ctx.Err(); err != nil {
			return err
		}

		batchEnd := min(batchStart+uint64(e.concurrency)-1, uint64(span.End))
		records := e.runBatch(ctx, ipv4.Address(batchStart), ipv4.Address(batchEnd))

		if err := ctx.Err(); err != nil {
			return err
		}

		for _, record := range records {
			if err := sink(ctx, record); err != nil {
				return fmt.Errorf("scanner: persist %s: %w", record.IP, err)
			}
		}

		done += uint64(len(records))
		e.report(Progress{
			Done:    done,
			Total:   total,
			Percent: float64(done) * 100 / float64(total),
			Last:    ipv4.Address(batchEnd),
		})

		batchStart = batchEnd + 1
	}

	return nil
}

func (e *Executor) runBatch(ctx context.Context, first, last ipv4.Address) []domain.ScanRecord {
	records := make([]domain.ScanRecord, uint64(last)-uint64(first)+1)

	// Probe failures are recorded, never returned, so the group only acts as
	// a barrier.
	var g errgroup.Group
	for i := range records {
		addr := first + ipv4.Address(i)
		g.Go(func() error {
			records[i] = e.scanAddress(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	return records
}

func (e *Executor) scanAddress(ctx context.Context, addr ipv4.Address) domain.ScanRecord {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	status, err := e.prober.Probe(probeCtx, addr)
	cancel()

	record := domain.NewScanRecord(addr, e.now())
	if err != nil {
		e.logger.Debug("Probe failed", "ip", record.IP, "error", err)
		if e.enricher != nil {
			e.enricher.Enrich(&record)
		}
		return record
	}

	record.HTTPStatus = &status

	if status >= minSuccessStatus && e.resolver != nil {
		resolveCtx, cancel := context.WithTimeout(ctx, e.resolveTimeout)
		host, err := e.resolver.ResolveHost(resolveCtx, addr)
		cancel()
		if err != nil {
			e.logger.Debug("Reverse lookup failed", "ip", record.IP, "error", err)
		} else if host != "" {
			record.Host = &host
		}
	}

	if e.enricher != nil {
		e.enricher.Enrich(&record)
	}

	return record
}

func (e *Executor) report(p Progress) {
	e.logger.Info("Scan progress", "done", p.Done, "total", p.Total, "percent", fmt.Sprintf("%.2f%%", p.Percent), "last", p.Last)
	if e.progress != nil {
		e.progress(p)
	}
}
