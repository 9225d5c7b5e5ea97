// Package telemetry ships monitor snapshots to telegraf as Influx line
// protocol over UDP.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"sleepywoodpecker/mindball-serial/internal/monitor"
)

const MeasurementName = "arena"

type SnapshotSource interface {
	Snapshot() monitor.Snapshot
}

type Sampler struct {
	interval time.Duration
	conn     io.Writer
	source   SnapshotSource
	logger   *zap.Logger
	now      func() time.Time
}

func NewSampler(interval time.Duration, conn io.Writer, source SnapshotSource, logger *zap.Logger) *Sampler {
	return &Sampler{
		interval: interval,
		conn:     conn,
		source:   source,
		logger:   logger,
		now:      time.Now,
	}
}

// FormatLine renders one snapshot. Channels show up as indexed fields so the
// two player game lands in the same measurement as the single player one.
func FormatLine(snap monitor.Snapshot, at time.Time) string {
	var b strings.Builder
	b.WriteString(MeasurementName)
	fmt.Fprintf(&b, ",session=%s,phase=%s,variant=%s", snap.Arena.SessionID, snap.Arena.Phase, snap.Variant)

	fmt.Fprintf(&b, " x=%.4f,y=%.4f", snap.Arena.Position.X, snap.Arena.Position.Y)
	for i, power := range snap.Arena.BandPowers {
		fmt.Fprintf(&b, ",band_power_%d=%.6f", i, power)
	}
	for i, ch := range snap.Channels {
		fmt.Fprintf(&b, ",samples_%d=%di,overwritten_%d=%di,queue_drops_%d=%di", i, ch.Samples, i, ch.Overwritten, i, ch.Stats.QueueDrops)
	}
	fmt.Fprintf(&b, ",winner=%q", snap.Arena.Winner)

	fmt.Fprintf(&b, " %d", at.UnixNano())
	return b.String()
}

func (s *Sampler) SampleAndLog() {
	line := FormatLine(s.source.Snapshot(), s.now())

	if err := s.send(line); err != nil {
		s.logger.Warn("[sampler] error writing data to UDP connection", zap.Error(err))
		return
	}
	s.logger.Debug("[sampler] collected sample", zap.String("influxString", line))
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleAndLog()
		}
	}
}

func (s *Sampler) send(line string) error {
	data := []byte(line)
	totalWritten := 0
	for totalWritten < len(data) {
		n, err := s.conn.Write(data[totalWritten:])
		if err != nil {
			return err
		}
		totalWritten += n
	}
	return nil
}
