package processing

import (
	"go.uber.org/zap"
	"sleepywoodpecker/mindball-serial/internal/packet"
	rserial "sleepywoodpecker/mindball-serial/internal/rSerial"
)

// Processor moves readings from one worker's queue into its feed. It is the
// fast cadence of the processing side and never blocks.
type Processor struct {
	PortName     string
	MessageQueue <-chan rserial.Reading
	logger       *zap.Logger
	feed         *DataFeed
	closed       bool
}

func NewProcessor(portName string, messageQueue <-chan rserial.Reading, logger *zap.Logger, feed *DataFeed) *Processor {
	return &Processor{
		PortName:     portName,
		MessageQueue: messageQueue,
		logger:       logger,
		feed:         feed,
	}
}

// Drain pulls every queued reading, posts each as the pending observation and
// then moves the newest one into the history. It returns how many readings
// were pulled.
func (p *Processor) Drain() int {
	pulled := 0
drain:
	for !p.closed {
		select {
		case reading, ok := <-p.MessageQueue:
			if !ok {
				p.logger.Info("[processor] message queue closed", zap.String("portName", p.PortName))
				p.closed = true
				break drain
			}
			pulled++
			p.ProcessReading(reading)
		default:
			break drain
		}
	}

	if obs, ok := p.feed.TakePending(); ok {
		p.feed.AppendToHistory(obs)
	}
	return pulled
}

// ProcessReading reduces a reading to one observation and posts it.
func (p *Processor) ProcessReading(reading rserial.Reading) bool {
	value, ok := packet.Mean(reading.Values)
	if !ok {
		p.logger.Debug("[processor] reading has no valid values", zap.String("portName", p.PortName), zap.Float64("timestamp", reading.Timestamp))
		return false
	}

	p.feed.Post(Observation{Timestamp: reading.Timestamp, Value: value})
	return true
}

// Closed reports whether the worker has closed its queue.
func (p *Processor) Closed() bool {
	return p.closed
}
