package common

import "errors"

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard rejects nested entry while an operation is in flight. The
// zero value is unlocked and enabled.
type ReentrancyGuard struct {
	busy     bool
	disabled bool
}

// SetEnabled toggles enforcement. A disabled guard never rejects.
func (g *ReentrancyGuard) SetEnabled(enabled bool) { g.disabled = !enabled }

// Enabled reports whether nested entry is rejected.
func (g *ReentrancyGuard) Enabled() bool { return !g.disabled }

// Busy reports whether an operation currently holds the guard.
func (g *ReentrancyGuard) Busy() bool { return g.busy }

// Enter marks the guard busy and returns the release function, which callers
// defer. Nested entry fails with ErrReentrantCall when enforcement is on.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if g.disabled {
		return func() {}, nil
	}
	if g.busy {
		return nil, ErrReentrantCall
	}
	g.busy = true
	return func() { g.busy = false }, nil
}
