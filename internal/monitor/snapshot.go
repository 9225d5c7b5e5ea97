package monitor

import (
	"sleepywoodpecker/mindball-serial/internal/arena"
	"sleepywoodpecker/mindball-serial/internal/dsp"
	rserial "sleepywoodpecker/mindball-serial/internal/rSerial"
)

// Channel is the display state of one device after the last processing tick.
type Channel struct {
	PortName   string
	Times      []float64
	Filtered   []float64
	Spectrum   dsp.Spectrum
	Samples    int
	WindowFull bool
	// Overwritten counts readings replaced before the drain picked them up.
	Overwritten uint64
	Stats       rserial.Stats
}

type Snapshot struct {
	Running  bool
	Variant  arena.Variant
	Channels []Channel
	Arena    arena.State
}

// Snapshot is safe to call from any goroutine. The slices it returns are
// never written again by the monitor.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Running:  m.running.Load(),
		Variant:  m.cfg.Variant,
		Channels: make([]Channel, 0, len(m.lanes)),
		Arena:    m.arena.State(),
	}
	for _, l := range m.lanes {
		ch := Channel{
			PortName:    l.device.Port,
			Times:       l.result.Times,
			Filtered:    l.result.Filtered,
			Spectrum:    l.result.Spectrum,
			Samples:     l.result.Samples,
			WindowFull:  l.result.WindowFull,
			Overwritten: l.feed.Overwritten(),
		}
		if l.worker != nil {
			ch.Stats = l.worker.Stats()
		}
		snap.Channels = append(snap.Channels, ch)
	}
	return snap
}
