package supervisor

import (
	"context"
	"errors"
	"testing"

	"dnsscanner/internal/catalog"
	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"manual":    ModeManual,
		"MANUAL":    ModeManual,
		"web":       ModeManual,
		"automatic": ModeAutomatic,
	}
	for raw, want := range cases {
		got, err := ParseMode(raw)
		if err != nil {
			t.Fatalf("ParseMode(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseMode(%q) = %s, want %s", raw, got, want)
		}
	}

	_, err := ParseMode("turbo")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "mode" {
		t.Fatalf("ParseMode(turbo) error = %v, want mode configuration error", err)
	}
}

func TestParseRequest(t *testing.T) {
	t.Run("manual request", func(t *testing.T) {
		req, err := ParseRequest("manual", "1.0.0.0", "1.0.0.255", true)
		if err != nil {
			t.Fatalf("ParseRequest returned error: %v", err)
		}
		if req.Span == nil || req.Span.Size() != 256 || !req.RestartOnFinish {
			t.Fatalf("ParseRequest returned %+v", req)
		}
	})

	t.Run("automatic ignores addresses", func(t *testing.T) {
		req, err := ParseRequest("automatic", "", "", false)
		if err != nil {
			t.Fatalf("ParseRequest returned error: %v", err)
		}
		if req.Span != nil {
			t.Fatalf("automatic request carried span %v", req.Span)
		}
	})

	t.Run("malformed address is fatal", func(t *testing.T) {
		_, err := ParseRequest("manual", "1.0.0", "1.0.0.255", false)
		if !errors.Is(err, ipv4.ErrMalformedAddress) || !IsFatal(err) {
			t.Fatalf("ParseRequest error = %v, want fatal ErrMalformedAddress", err)
		}
	})

	t.Run("inverted span is fatal", func(t *testing.T) {
		_, err := ParseRequest("manual", "1.0.0.9", "1.0.0.1", false)
		if !IsFatal(err) {
			t.Fatalf("ParseRequest error = %v, want fatal error", err)
		}
	})
}

func TestEngineRun(t *testing.T) {
	scan := &scriptedScanner{}
	engine := NewEngine(newTestSupervisor(scan, newMemoryWriter(), nil))

	if err := engine.Run(context.Background(), "manual", "192.168.0.0", "192.168.0.3", false); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if engine.State() != StateCompleted {
		t.Fatalf("State = %s, want completed", engine.State())
	}
	if len(scan.attempts()) != 1 {
		t.Fatalf("scanner ran %d attempts, want 1", len(scan.attempts()))
	}

	if err := engine.Run(context.Background(), "bogus", "", "", false); !IsFatal(err) {
		t.Fatalf("Run error = %v, want fatal error", err)
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(nil) {
		t.Fatal("nil error reported fatal")
	}
	if IsFatal(errTransient) {
		t.Fatal("transient error reported fatal")
	}
	if IsFatal(context.Canceled) {
		t.Fatal("cancellation reported fatal")
	}
}

// countingLeader records how often leadership was requested and how many
// spans had been scanned at that moment.
type countingLeader struct {
	calls        int
	scannedFirst []int
	scan         *scriptedScanner
}

func (l *countingLeader) run(ctx context.Context, fn func(context.Context) error) error {
	l.calls++
	l.scannedFirst = append(l.scannedFirst, len(l.scan.attempts()))
	return fn(ctx)
}

func TestEngineLeaderElectionGuardsAutomaticSelection(t *testing.T) {
	newEngine := func(scan *scriptedScanner, leader *countingLeader, ranges ...domain.AddressRange) (*Engine, *queueSelector) {
		selector := &queueSelector{ranges: ranges}
		sup := newTestSupervisor(scan, newMemoryWriter(), selector, WithLeaderElection(leader.run))
		return NewEngine(sup), selector
	}

	t.Run("manual span runs unguarded", func(t *testing.T) {
		scan := &scriptedScanner{}
		leader := &countingLeader{scan: scan}
		engine, _ := newEngine(scan, leader)

		if err := engine.Run(context.Background(), "manual", "10.1.0.0", "10.1.0.1", false); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if leader.calls != 0 {
			t.Fatalf("leadership requested %d times, want 0", leader.calls)
		}
	})

	t.Run("automatic run", func(t *testing.T) {
		scan := &scriptedScanner{}
		leader := &countingLeader{scan: scan}
		engine, selector := newEngine(scan, leader, catalog.Range(10, 0))

		if err := engine.Run(context.Background(), "automatic", "", "", false); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if leader.calls != 1 || selector.calls != 1 {
			t.Fatalf("leader calls = %d, selector calls = %d, want 1 and 1", leader.calls, selector.calls)
		}
	})

	t.Run("manual span continuing automatically", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		scan := &scriptedScanner{}
		leader := &countingLeader{scan: scan}
		engine, selector := newEngine(scan, leader, catalog.Range(1, 0))
		selector.errs = []error{nil, context.Canceled}
		selector.onCall = func(call int) {
			if call == 2 {
				cancel()
			}
		}

		err := engine.Run(ctx, "manual", "10.0.0.0", "10.0.0.3", true)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
		if leader.calls != 1 {
			t.Fatalf("leadership requested %d times, want 1", leader.calls)
		}
		if leader.scannedFirst[0] != 1 {
			t.Fatalf("leadership requested after %d spans, want after the manual span", leader.scannedFirst[0])
		}
		if selector.calls != 2 {
			t.Fatalf("selector called %d times, want 2", selector.calls)
		}
	})
}

