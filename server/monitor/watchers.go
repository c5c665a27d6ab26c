package monitor

import "github.com/cyclopcam/trafficwatch/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive the analysis of every frame
func (m *Monitor) AddWatcher() chan *AnalysisState {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *AnalysisState, WatcherChannelSize)
	m.watchers = append(m.watchers, ch)
	return ch
}

// Unregister from frame analysis
func (m *Monitor) RemoveWatcher(ch chan *AnalysisState) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for i, w := range m.watchers {
		if w == ch {
			m.watchers = gen.DeleteFromSliceUnordered(m.watchers, i)
			return
		}
	}
	m.Log.Warnf("Monitor.RemoveWatcher failed to find channel")
}

// Register to receive violation events
func (m *Monitor) AddEventWatcher() chan *ViolationEvent {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *ViolationEvent, WatcherChannelSize)
	m.eventWatchers = append(m.eventWatchers, ch)
	return ch
}

// Unregister from violation events
func (m *Monitor) RemoveEventWatcher(ch chan *ViolationEvent) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for i, w := range m.eventWatchers {
		if w == ch {
			m.eventWatchers = gen.DeleteFromSliceUnordered(m.eventWatchers, i)
			return
		}
	}
	m.Log.Warnf("Monitor.RemoveEventWatcher failed to find channel")
}

func (m *Monitor) sendToWatchers(state *AnalysisState) {
	m.watchersLock.RLock()
	defer m.watchersLock.RUnlock()
	// A stalled watcher must never stall the frame loop, so we drop instead of blocking.
	for _, ch := range m.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			m.Log.Warnf("Monitor watcher is falling behind. I am going to drop frames.")
		} else {
			ch <- state
		}
	}
}

func (m *Monitor) sendToEventWatchers(ev *ViolationEvent) {
	m.watchersLock.RLock()
	defer m.watchersLock.RUnlock()
	for _, ch := range m.eventWatchers {
		if len(ch) >= cap(ch)*9/10 {
			m.Log.Warnf("Monitor event watcher is falling behind. Dropping %v event for track %v", ev.Kind, ev.TrackID)
		} else {
			ch <- ev
		}
	}
}

// NumEventWatchers is the number of registered event watchers
func (m *Monitor) NumEventWatchers() int {
	m.watchersLock.RLock()
	defer m.watchersLock.RUnlock()
	return len(m.eventWatchers)
}
