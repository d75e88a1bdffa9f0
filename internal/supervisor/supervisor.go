package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dnsscanner/internal/catalog"
	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"
	"dnsscanner/internal/scanner"

	"github.com/charmbracelet/log"
)

const (
	DefaultRestartDelay    = 5 * time.Second
	DefaultRescanDelay     = time.Second
	DefaultCheckpointEvery = 256
)

type SpanScanner interface {
	ScanSpan(ctx context.Context, span domain.Span, sink scanner.Sink) error
}

type RecordWriter interface {
	ReplaceRecord(ctx context.Context, record domain.ScanRecord) error
}

type RangeSelector interface {
	SelectNextRange(ctx context.Context, maxFirst, maxSecond int) (domain.AddressRange, error)
}

// Checkpointer persists span watermarks outside the process, one per key.
// Load returns nil when no checkpoint exists under key.
type Checkpointer interface {
	Load(ctx context.Context, key string) (*domain.Checkpoint, error)
	Save(ctx context.Context, key string, checkpoint domain.Checkpoint) error
	Clear(ctx context.Context, key string) error
}

// LeaderFunc runs fn only while this process holds leadership.
type LeaderFunc func(ctx context.Context, fn func(context.Context) error) error

type Request struct {
	Mode            Mode
	Span            *domain.Span
	RestartOnFinish bool
}

// Supervisor drives the executor through Idle, Running, Completed and Failed.
// A failed pass restarts after the last persisted address of the same span.
type Supervisor struct {
	scanner     SpanScanner
	writer      RecordWriter
	selector    RangeSelector
	checkpoints Checkpointer
	leader      LeaderFunc
	logger      *log.Logger

	maxFirst        int
	maxSecond       int
	restartDelay    time.Duration
	rescanDelay     time.Duration
	maxRestarts     int
	checkpointEvery int

	state atomic.Int32
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Supervisor)

func WithCheckpointer(c Checkpointer) Option {
	return func(s *Supervisor) {
		s.checkpoints = c
	}
}

// WithLeaderElection guards automatic range selection, so only one process
// walks the catalog at a time. Manual spans run unguarded.
func WithLeaderElection(leader LeaderFunc) Option {
	return func(s *Supervisor) {
		s.leader = leader
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCatalogBounds(maxFirst, maxSecond int) Option {
	return func(s *Supervisor) {
		s.maxFirst = maxFirst
		s.maxSecond = maxSecond
	}
}

func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.restartDelay = d
		}
	}
}

func WithRescanDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.rescanDelay = d
		}
	}
}

// WithMaxRestarts bounds consecutive restarts of one span. Zero means no
// bound.
func WithMaxRestarts(n int) Option {
	return func(s *Supervisor) {
		if n >= 0 {
			s.maxRestarts = n
		}
	}
}

func WithCheckpointEvery(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.checkpointEvery = n
		}
	}
}

func New(spanScanner SpanScanner, writer RecordWriter, selector RangeSelector, opts ...Option) *Supervisor {
	s := &Supervisor{
		scanner:         spanScanner,
		writer:          writer,
		selector:        selector,
		logger:          log.Default(),
		maxFirst:        catalog.MaxOctet,
		maxSecond:       catalog.MaxOctet,
		restartDelay:    DefaultRestartDelay,
		rescanDelay:     DefaultRescanDelay,
		checkpointEvery: DefaultCheckpointEvery,
		now:             func() time.Time { return time.Now().UTC() },
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(next State, keyvals ...any) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Debug("Supervisor state changed", append([]any{"from", prev, "to", next}, keyvals...)...)
}

// Run scans until the requested work is done. Configuration errors end the run
// immediately; any other failure restarts the span from its watermark. With
// RestartOnFinish the supervisor keeps selecting ranges until ctx is done.
// Automatic selection only happens while holding leadership.
func (s *Supervisor) Run(ctx context.Context, req Request) error {
	if s.scanner == nil || s.writer == nil {
		return configError("supervisor", errors.New("scanner and record writer are required"))
	}

	switch req.Mode {
	case ModeManual:
		if err := s.scanNext(ctx, ModeManual, req.Span); err != nil {
			return err
		}
		if !req.RestartOnFinish {
			return nil
		}
		s.logger.Info("Scan finished, continuing with automatic range selection", "delay", s.rescanDelay)
		if err := s.sleep(ctx, s.rescanDelay); err != nil {
			return err
		}
	case ModeAutomatic:
	default:
		return configError("mode", fmt.Errorf("unsupported mode %q", req.Mode))
	}

	return s.asLeader(ctx, func(ctx context.Context) error {
		for {
			if err := s.scanNext(ctx, ModeAutomatic, nil); err != nil {
				return err
			}
			if !req.RestartOnFinish {
				return nil
			}
			s.logger.Info("Scan finished, selecting the next range", "delay", s.rescanDelay)
			if err := s.sleep(ctx, s.rescanDelay); err != nil {
				return err
			}
		}
	})
}

func (s *Supervisor) asLeader(ctx context.Context, fn func(context.Context) error) error {
	if s.leader == nil {
		return fn(ctx)
	}
	return s.leader(ctx, fn)
}

func (s *Supervisor) scanNext(ctx context.Context, mode Mode, manual *domain.Span) error {
	span, resumeFrom, err := s.nextSpan(ctx, mode, manual)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(StateFailed, "error", err)
		return err
	}
	return s.runSpan(ctx, mode, span, resumeFrom)
}

// nextSpan decides what to scan: a resumable checkpoint first, then the
// manual span or the scheduler's pick.
func (s *Supervisor) nextSpan(ctx context.Context, mode Mode, manual *domain.Span) (domain.Span, *ipv4.Address, error) {
	switch mode {
	case ModeManual:
		if manual == nil {
			return domain.Span{}, nil, configError("span", errors.New("manual mode needs a start and an end address"))
		}
		if !manual.Valid() {
			return domain.Span{}, nil, configError("span", errInvertedSpan(*manual))
		}
		if cp := s.loadCheckpoint(ctx, checkpointKey(ModeManual, *manual)); cp != nil && cp.Span == *manual {
			s.logger.Info("Resuming manual span from checkpoint", "span", cp.Span, "lastCompleted", describe(cp.LastCompleted))
			return cp.Span, cp.LastCompleted, nil
		}
		return *manual, nil, nil

	case ModeAutomatic:
		if cp := s.loadCheckpoint(ctx, checkpointKey(ModeAutomatic, domain.Span{})); cp != nil && Mode(cp.Mode) == ModeAutomatic {
			s.logger.Info("Resuming automatic span from checkpoint", "span", cp.Span, "lastCompleted", describe(cp.LastCompleted))
			return cp.Span, cp.LastCompleted, nil
		}
		if s.selector == nil {
			return domain.Span{}, nil, configError("mode", errors.New("automatic mode needs a range selector"))
		}
		for {
			r, err := s.selector.SelectNextRange(ctx, s.maxFirst, s.maxSecond)
			if err == nil {
				return r.Span(), nil, nil
			}
			if IsFatal(err) || ctx.Err() != nil {
				return domain.Span{}, nil, err
			}
			s.logger.Error("Failed to select next range", "error", err, "retryIn", s.restartDelay)
			if err := s.sleep(ctx, s.restartDelay); err != nil {
				return domain.Span{}, nil, err
			}
		}

	default:
		return domain.Span{}, nil, configError("mode", fmt.Errorf("unsupported mode %q", mode))
	}
}

func (s *Supervisor) runSpan(ctx context.Context, mode Mode, span domain.Span, resumeFrom *ipv4.Address) error {
	tracker := &watermark{}
	if resumeFrom != nil {
		tracker.set(*resumeFrom)
	}

	restarts := 0
	for {
		remaining, ok := domain.RemainingAfter(span, tracker.get())
		if !ok {
			s.setState(StateCompleted, "span", span)
			s.clearCheckpoint(ctx, mode, span)
			s.logger.Info("Span completed", "span", span)
			return nil
		}

		s.setState(StateRunning, "span", remaining)
		if restarts == 0 && resumeFrom == nil {
			s.logger.Info("Starting scan", "mode", mode, "from", remaining.Start, "to", remaining.End)
		} else {
			s.logger.Info("Resuming scan", "mode", mode, "from", remaining.Start, "to", remaining.End, "restarts", restarts)
		}

		err := s.scanner.ScanSpan(ctx, remaining, s.sink(mode, span, tracker))
		if err == nil {
			s.setState(StateCompleted, "span", span)
			s.clearCheckpoint(ctx, mode, span)
			s.logger.Info("Span completed", "span", span)
			return nil
		}

		s.saveCheckpoint(context.WithoutCancel(ctx), mode, span, tracker.get())

		if ctx.Err() != nil {
			s.setState(StateIdle)
			return ctx.Err()
		}

		s.setState(StateFailed, "error", err)
		if IsFatal(err) {
			return err
		}

		restarts++
		if s.maxRestarts > 0 && restarts > s.maxRestarts {
			return fmt.Errorf("supervisor: span %s failed after %d restarts: %w", span, s.maxRestarts, err)
		}

		s.logger.Error("Scan failed, restarting from last saved record",
			"error", err,
			"lastCompleted", describe(tracker.get()),
			"retryIn", s.restartDelay,
		)
		if err := s.sleep(ctx, s.restartDelay); err != nil {
			s.setState(StateIdle)
			return err
		}
	}
}

// sink persists each record and advances the watermark only after the write
// succeeded.
func (s *Supervisor) sink(mode Mode, span domain.Span, tracker *watermark) scanner.Sink {
	var sinceSave int
	return func(ctx context.Context, record domain.ScanRecord) error {
		if err := s.writer.ReplaceRecord(ctx, record); err != nil {
			return err
		}
		tracker.set(record.Address())

		sinceSave++
		if s.checkpoints != nil && sinceSave >= s.checkpointEvery {
			sinceSave = 0
			s.saveCheckpoint(ctx, mode, span, tracker.get())
		}
		return nil
	}
}

// checkpointKey separates runs that may share a checkpoint store: the single
// automatic walk, and each manual span.
func checkpointKey(mode Mode, span domain.Span) string {
	if mode == ModeAutomatic {
		return string(ModeAutomatic)
	}
	return string(mode) + ":" + span.String()
}

func (s *Supervisor) loadCheckpoint(ctx context.Context, key string) *domain.Checkpoint {
	if s.checkpoints == nil {
		return nil
	}
	cp, err := s.checkpoints.Load(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to load checkpoint", "error", err)
		return nil
	}
	if cp == nil || !cp.Span.Valid() {
		return nil
	}
	if _, ok := cp.Remaining(); !ok {
		s.clearKey(ctx, key)
		return nil
	}
	return cp
}

func (s *Supervisor) saveCheckpoint(ctx context.Context, mode Mode, span domain.Span, lastCompleted *ipv4.Address) {
	if s.checkpoints == nil {
		return
	}
	cp := domain.Checkpoint{
		Mode:          string(mode),
		Span:          span,
		LastCompleted: lastCompleted,
		UpdatedAt:     s.now(),
	}
	if err := s.checkpoints.Save(ctx, checkpointKey(mode, span), cp); err != nil {
		s.logger.Warn("Failed to save checkpoint", "span", span, "error", err)
	}
}

func (s *Supervisor) clearCheckpoint(ctx context.Context, mode Mode, span domain.Span) {
	s.clearKey(ctx, checkpointKey(mode, span))
}

func (s *Supervisor) clearKey(ctx context.Context, key string) {
	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.Clear(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("Failed to clear checkpoint", "key", key, "error", err)
	}
}

// watermark is the address of the most recently persisted record.
type watermark struct {
	mu   sync.Mutex
	addr *ipv4.Address
}

func (w *watermark) set(addr ipv4.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addr = &addr
}

func (w *watermark) get() *ipv4.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.addr == nil {
		return nil
	}
	addr := *w.addr
	return &addr
}

func describe(addr *ipv4.Address) string {
	if addr == nil {
		return "none"
	}
	return addr.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
