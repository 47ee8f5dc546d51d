package ui

import (
	"sync"
	"testing"
)

// The daemon starts the refresh ticker before the tray loop has built its
// menu, so Refresh must tolerate concurrent calls while the items are
// still unset.
func TestTray_RefreshBeforeMenuReady(t *testing.T) {
	tr := NewTray(TrayConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Refresh()
			}
		}()
	}
	wg.Wait()
}

func TestTray_HandleStopWithoutRunner(t *testing.T) {
	tr := NewTray(TrayConfig{})
	tr.handleStop()
}
