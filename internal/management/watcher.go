package management

import (
	"context"
	"time"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

const defaultWatcherInterval = 2 * time.Second

// handleStartWatcher launches a background poll loop over the installed
// driver's connection: on each tick it checks IsConnected and, if the
// link has dropped and a lifecycle handle is attached, calls
// EnsureRunning so the agent process is running. It does not reconnect
// the driver's stream; that happens on the driver's next request.
// Starting a watcher while one is already running replaces it.
func (m *Manager) handleStartWatcher(req ipcserver.Request) ipcserver.Response {
	interval := defaultWatcherInterval
	if req.IntervalMs != nil {
		interval = time.Duration(*req.IntervalMs) * time.Millisecond
	}

	m.stopWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.watcherCtl = &watcherHandle{cancel: cancel, done: done}
	m.mu.Unlock()

	go m.runWatcher(ctx, done, interval)
	return commandResult(true, "watcher started")
}

func (m *Manager) handleStopWatcher() ipcserver.Response {
	m.stopWatcher()
	return commandResult(true, "watcher stopped")
}

// stopWatcher cancels any running watcher and waits for it to
// exit. Despite the name it takes m.mu only briefly to swap out the
// handle, never while waiting on done — the watcher goroutine itself
// needs the lock to poll the connection.
func (m *Manager) stopWatcher() {
	m.mu.Lock()
	ctl := m.watcherCtl
	m.watcherCtl = nil
	m.mu.Unlock()

	if ctl == nil {
		return
	}
	ctl.cancel()
	<-ctl.done
}

func (m *Manager) runWatcher(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkConnection(ctx)
		}
	}
}

func (m *Manager) checkConnection(ctx context.Context) {
	m.mu.Lock()
	drv := m.drv
	lc := m.lifecycle
	deviceID := m.deviceID
	m.mu.Unlock()

	if drv == nil || drv.IsConnected() || lc == nil {
		return
	}
	if err := lc.EnsureRunning(ctx, deviceID); err != nil {
		m.logger.Warn().Err(err).Msg("management: watcher reconnect failed")
	}
}
