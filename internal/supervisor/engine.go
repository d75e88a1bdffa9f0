package supervisor

import (
	"context"

	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"
)

// Engine is the entry point used by the command line: it turns raw arguments
// into a Request and hands it to the supervisor.
type Engine struct {
	supervisor *Supervisor
}

func NewEngine(s *Supervisor) *Engine {
	return &Engine{supervisor: s}
}

// ParseRequest validates the raw arguments. from and to are required in
// manual mode and ignored in automatic mode.
func ParseRequest(mode, from, to string, restartOnFinish bool) (Request, error) {
	parsedMode, err := ParseMode(mode)
	if err != nil {
		return Request{}, err
	}

	req := Request{Mode: parsedMode, RestartOnFinish: restartOnFinish}
	if parsedMode == ModeAutomatic {
		return req, nil
	}

	start, err := ipv4.Parse(from)
	if err != nil {
		return Request{}, configError("from", err)
	}
	end, err := ipv4.Parse(to)
	if err != nil {
		return Request{}, configError("to", err)
	}

	span := domain.Span{Start: start, End: end}
	if !span.Valid() {
		return Request{}, configError("span", errInvertedSpan(span))
	}
	req.Span = &span
	return req, nil
}

func (e *Engine) Run(ctx context.Context, mode, from, to string, restartOnFinish bool) error {
	req, err := ParseRequest(mode, from, to, restartOnFinish)
	if err != nil {
		return err
	}
	return e.supervisor.Run(ctx, req)
}

func (e *Engine) State() State {
	return e.supervisor.State()
}
