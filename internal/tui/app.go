// Package tui renders the gauge display in a terminal with tview.
package tui

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/session"
)

const gaugeWidth = 40

// Controller is the part of session.Controller the terminal UI drives.
type Controller interface {
	Start() bool
	Abort() bool
	Toggle() bool
	Watch() (<-chan session.Snapshot, func())
}

type App struct {
	app        *tview.Application
	controller Controller
	logger     *logging.Logger

	download *tview.TextView
	upload   *tview.TextView
	latency  *tview.TextView
	status   *tview.TextView
	button   *tview.Button

	mu   sync.Mutex
	last session.Snapshot
	now  func() time.Time
}

func New(controller Controller, title string) *App {
	a := &App{
		app:        tview.NewApplication(),
		controller: controller,
		logger:     logging.NewLogger("tui"),
		download:   newPane("Download"),
		upload:     newPane("Upload"),
		latency:    tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter),
		status:     tview.NewTextView().SetDynamicColors(true),
		now:        time.Now,
	}
	a.button = tview.NewButton("Start").SetSelectedFunc(func() { a.controller.Toggle() })

	gauges := tview.NewFlex().
		AddItem(a.download, 0, 1, false).
		AddItem(a.upload, 0, 1, false)
	buttonRow := tview.NewFlex().
		AddItem(tview.NewBox(), 0, 1, false).
		AddItem(a.button, 12, 0, true).
		AddItem(tview.NewBox(), 0, 1, false)
	footer := tview.NewTextView().SetDynamicColors(true).SetText(keyHelp)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(gauges, 6, 0, false).
		AddItem(a.latency, 1, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(buttonRow, 1, 0, true).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(a.status, 1, 0, false).
		AddItem(footer, 1, 0, false)
	root.SetBorder(true).SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)

	a.app.SetRoot(root, true).SetFocus(a.button).EnableMouse(true)
	a.app.SetInputCapture(a.handleKey)
	a.apply(session.Snapshot{Display: session.DefaultDisplay()})
	return a
}

func newPane(title string) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBorder(true).SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
	return tv
}

// SetScreen replaces the terminal, e.g. with a tcell simulation screen.
func (a *App) SetScreen(screen tcell.Screen) {
	a.app.SetScreen(screen)
}

// Run shows the UI until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	updates, cancel := a.controller.Watch()
	defer cancel()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				// Queued so a Stop issued before the event loop starts is not lost.
				a.app.QueueUpdate(a.app.Stop)
				return
			case snap, ok := <-updates:
				if !ok {
					a.app.QueueUpdate(a.app.Stop)
					return
				}
				a.app.QueueUpdateDraw(func() { a.apply(snap) })
			case <-ticker.C:
				// Keeps the relative times in the status line current.
				a.app.QueueUpdateDraw(a.refreshStatus)
			}
		}
	}()

	a.logger.Debug("terminal UI started")
	return a.app.Run()
}

func (a *App) Stop() {
	a.app.Stop()
}

// apply renders snap into the widgets. It must run on the UI goroutine, or
// before the application starts.
func (a *App) apply(snap session.Snapshot) {
	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	d := snap.Display
	a.download.SetText(gaugePanel("Download", d.DownloadRateText(), d.DownloadAmount, d.DownloadFraction, gaugeWidth))
	a.upload.SetText(gaugePanel("Upload", d.UploadRateText(), d.UploadAmount, d.UploadFraction, gaugeWidth))
	a.latency.SetText(latencyLine(d))
	a.button.SetLabel(d.ActionLabel())
	a.refreshStatus()
}

func (a *App) refreshStatus() {
	a.mu.Lock()
	snap := a.last
	a.mu.Unlock()
	a.status.SetText(statusLine(snap, a.now()))
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC, tcell.KeyEsc:
		a.app.Stop()
		return nil
	case tcell.KeyRune:
	default:
		return event
	}
	switch event.Rune() {
	case 's', 'S':
		a.controller.Start()
	case 'a', 'A':
		a.controller.Abort()
	case ' ':
		a.controller.Toggle()
	case 'q', 'Q':
		a.app.Stop()
	default:
		return event
	}
	return nil
}
