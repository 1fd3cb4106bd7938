// Package buildui displays image-build progress across the four fixed
// layers of spec.md §4.6 (debootstrap, server, desktop, image). The
// BuildUI interface and its two implementations are grounded on
// go-synth/build/ui.go, ui_stdout.go, and ui_ncurses.go, narrowed from a
// per-package worker-pool display to a four-stage pipeline display: there
// is no dynamic worker count here, just one of four named layers moving
// through pending/building/cached/done/failed.
package buildui

import (
	"fmt"
	"sync"
	"time"
)

// LayerStatus is the state of one image layer in the pipeline.
type LayerStatus int

const (
	StatusPending LayerStatus = iota
	StatusBuilding
	StatusCached
	StatusDone
	StatusFailed
)

func (s LayerStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBuilding:
		return "building"
	case StatusCached:
		return "cached"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Layers names the four fixed stages of the image pipeline, in order.
var Layers = []string{"debootstrap", "server", "desktop", "image"}

// BuildUI displays the progress of the four-layer image pipeline.
// Implementations can be plain stdout or a full-screen tview UI
// (pop-core-build uses the tview UI unless --no-ui is given).
type BuildUI interface {
	// Start initializes the UI.
	Start() error

	// Stop cleanly shuts down the UI.
	Stop()

	// LayerUpdate reports a layer transitioning to a new status.
	LayerUpdate(layer string, status LayerStatus)

	// LogEvent logs a free-form progress line (e.g. a debootstrap or
	// apt output line from within a layer build).
	LogEvent(layer string, message string)
}

// StdoutUI implements BuildUI with plain line-oriented stdout output,
// grounded on go-synth/build/ui_stdout.go.
type StdoutUI struct {
	mu sync.Mutex
}

// NewStdoutUI returns a BuildUI that writes to stdout.
func NewStdoutUI() *StdoutUI {
	return &StdoutUI{}
}

func (ui *StdoutUI) Start() error {
	return nil
}

func (ui *StdoutUI) Stop() {
	fmt.Println()
}

func (ui *StdoutUI) LayerUpdate(layer string, status LayerStatus) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), layer, status)
}

func (ui *StdoutUI) LogEvent(layer string, message string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Printf("[%s] %-11s %s\n", time.Now().Format("15:04:05"), layer, message)
}
