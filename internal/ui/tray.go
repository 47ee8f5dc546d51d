package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/longtake/longtake-agent/internal/generate"
)

type Tray struct {
	runner *generate.Runner
	logger *slog.Logger

	statusItem *systray.MenuItem
	chunksItem *systray.MenuItem
	stopItem   *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Runner *generate.Runner
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner: cfg.Runner,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Longtake")
	systray.SetTooltip("Longtake Agent")

	statusItem := systray.AddMenuItem("Status: Idle", "Current agent status")
	statusItem.Disable()

	chunksItem := systray.AddMenuItem("Chunks: 0", "Chunks produced by the active run")
	chunksItem.Disable()

	systray.AddSeparator()

	stopItem := systray.AddMenuItem("Stop Run", "Request a graceful stop of the active run")
	stopItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Longtake Agent")

	// Refresh may already be ticking, so publish the items under the lock.
	t.mu.Lock()
	t.statusItem = statusItem
	t.chunksItem = chunksItem
	t.stopItem = stopItem
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-stopItem.ClickedCh:
				t.handleStop()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleStop() {
	if t.runner == nil {
		return
	}
	active := t.runner.Current()
	if active == nil {
		return
	}
	if err := t.runner.Stop(active.ID); err != nil {
		t.logger.Error("failed to stop run from tray", "run_id", active.ID, "error", err)
		return
	}
	t.logger.Info("stop requested from tray", "run_id", active.ID)
}

// Refresh redraws the menu from the runner state. Called periodically by
// the daemon.
func (t *Tray) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil || t.runner == nil {
		return
	}

	active := t.runner.Current()
	if active == nil {
		t.statusItem.SetTitle("Status: Idle")
		t.chunksItem.SetTitle("Chunks: 0")
		t.stopItem.Disable()
		return
	}

	t.statusItem.SetTitle(fmt.Sprintf("Status: Generating (%s)", active.Basename))
	t.chunksItem.SetTitle(fmt.Sprintf("Chunks: %d", active.ChunksDone))
	if active.Mode == generate.ModeContinuous {
		t.stopItem.Enable()
	} else {
		t.stopItem.Disable()
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
