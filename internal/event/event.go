// Package event defines the command-monitoring events bracketing every
// exchange (spec §4.6/§6) and the redaction pass applied to
// security-sensitive command documents before they are emitted.
package event

import "time"

// CommandStartedEvent is emitted before a command is written to the
// wire.
type CommandStartedEvent struct {
	RequestID    int32
	CommandName  string
	DatabaseName string
	Command      []byte // redacted if sensitive, see Redact
	ConnectionID string
	Address      string
}

// CommandSucceededEvent is emitted after a successful reply is parsed.
type CommandSucceededEvent struct {
	RequestID    int32
	CommandName  string
	Duration     time.Duration
	Reply        []byte // redacted if sensitive
	ConnectionID string
	Address      string
}

// CommandFailedEvent is emitted when the exchange fails, whether due to
// a command error or a fatal connection error.
type CommandFailedEvent struct {
	RequestID    int32
	CommandName  string
	Duration     time.Duration
	Failure      error
	ConnectionID string
	Address      string
}

// Monitor receives command lifecycle events. Any of its methods may be
// nil-safe no-ops; callers typically embed Monitor in a larger listener.
type Monitor struct {
	Started   func(CommandStartedEvent)
	Succeeded func(CommandSucceededEvent)
	Failed    func(CommandFailedEvent)
}

func (m *Monitor) started(e CommandStartedEvent) {
	if m != nil && m.Started != nil {
		m.Started(e)
	}
}

func (m *Monitor) succeeded(e CommandSucceededEvent) {
	if m != nil && m.Succeeded != nil {
		m.Succeeded(e)
	}
}

func (m *Monitor) failed(e CommandFailedEvent) {
	if m != nil && m.Failed != nil {
		m.Failed(e)
	}
}

// Emit reports the three command lifecycle phases for a single exchange
// through a closure-based helper: call Emit to get a "finish" func, write
// the wire message, then call finish with the reply bytes (nil on
// failure) and the failure (nil on success).
func Emit(m *Monitor, start CommandStartedEvent) (finish func(reply []byte, err error)) {
	m.started(start)
	begin := time.Now()
	return func(reply []byte, err error) {
		if err != nil {
			m.failed(CommandFailedEvent{
				RequestID:    start.RequestID,
				CommandName:  start.CommandName,
				Duration:     time.Since(begin),
				Failure:      err,
				ConnectionID: start.ConnectionID,
				Address:      start.Address,
			})
			return
		}
		m.succeeded(CommandSucceededEvent{
			RequestID:    start.RequestID,
			CommandName:  start.CommandName,
			Duration:     time.Since(begin),
			Reply:        reply,
			ConnectionID: start.ConnectionID,
			Address:      start.Address,
		})
	}
}
