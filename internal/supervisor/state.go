package supervisor

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"

	// legacyWebMode is the name older deployments used for a manual sweep.
	legacyWebMode = "web"
)

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeManual), legacyWebMode:
		return ModeManual, nil
	case string(ModeAutomatic):
		return ModeAutomatic, nil
	default:
		return "", configError("mode", fmt.Errorf("unsupported mode %q (want %s or %s)", raw, ModeManual, ModeAutomatic))
	}
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
