package buildui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ScreenUI implements BuildUI with a tview/tcell full-screen display,
// grounded on go-synth/build/ui_ncurses.go: a fixed header listing the
// four layers and their status plus a scrolling event log, instead of
// ui_ncurses.go's dynamic worker-pool counters.
type ScreenUI struct {
	app        *tview.Application
	headerText *tview.TextView
	eventsText *tview.TextView
	layout     *tview.Flex

	mu            sync.Mutex
	statuses      map[string]LayerStatus
	eventLines    []string
	maxEventLines int
	stopped       bool
	onInterrupt   func()
}

// NewScreenUI returns a full-screen BuildUI.
func NewScreenUI() *ScreenUI {
	statuses := make(map[string]LayerStatus, len(Layers))
	for _, l := range Layers {
		statuses[l] = StatusPending
	}
	return &ScreenUI{
		statuses:      statuses,
		maxEventLines: 200,
	}
}

// SetInterruptHandler sets a callback invoked when the user presses
// Ctrl+C or q inside the UI.
func (ui *ScreenUI) SetInterruptHandler(handler func()) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.onInterrupt = handler
}

func (ui *ScreenUI) Start() error {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	ui.app = tview.NewApplication()

	ui.headerText = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.headerText.SetBorder(true).SetTitle(" pop-core image build ").SetTitleAlign(tview.AlignLeft)
	ui.headerText.SetText(ui.renderHeader())

	ui.eventsText = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() { ui.app.Draw() })
	ui.eventsText.SetBorder(true).SetTitle(" Events ").SetTitleAlign(tview.AlignLeft)
	ui.eventsText.SetText("no events yet")

	ui.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.headerText, len(Layers)+2, 0, false).
		AddItem(ui.eventsText, 0, 1, false)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			ui.stopAndInterrupt()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' || event.Rune() == 'Q' {
				ui.stopAndInterrupt()
				return nil
			}
		}
		return event
	})

	go func() {
		ui.app.SetRoot(ui.layout, true).EnableMouse(true).Run()
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

func (ui *ScreenUI) stopAndInterrupt() {
	ui.app.Stop()
	ui.mu.Lock()
	handler := ui.onInterrupt
	ui.mu.Unlock()
	if handler != nil {
		go handler()
	}
}

func (ui *ScreenUI) Stop() {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if ui.stopped {
		return
	}
	ui.stopped = true
	if ui.app != nil {
		ui.app.Stop()
	}
	time.Sleep(100 * time.Millisecond)
}

func (ui *ScreenUI) LayerUpdate(layer string, status LayerStatus) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if ui.app == nil || ui.stopped {
		return
	}
	ui.statuses[layer] = status
	header := ui.renderHeader()
	ui.app.QueueUpdateDraw(func() {
		ui.headerText.SetText(header)
	})
}

func (ui *ScreenUI) renderHeader() string {
	out := ""
	for _, l := range Layers {
		out += fmt.Sprintf("%-12s %s\n", l, colorForStatus(ui.statuses[l]))
	}
	return out
}

func colorForStatus(s LayerStatus) string {
	switch s {
	case StatusDone:
		return "[green]done[white]"
	case StatusFailed:
		return "[red]failed[white]"
	case StatusBuilding:
		return "[yellow]building[white]"
	case StatusCached:
		return "[blue]cached[white]"
	default:
		return "pending"
	}
}

func (ui *ScreenUI) LogEvent(layer string, message string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if ui.app == nil || ui.stopped {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] [cyan]%s[white] %s", timestamp, layer, message)
	ui.eventLines = append(ui.eventLines, line)
	if len(ui.eventLines) > ui.maxEventLines {
		ui.eventLines = ui.eventLines[1:]
	}

	text := ""
	for _, l := range ui.eventLines {
		text += l + "\n"
	}

	ui.app.QueueUpdateDraw(func() {
		ui.eventsText.SetText(text)
		ui.eventsText.ScrollToEnd()
	})
}
