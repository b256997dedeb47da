package monitor

import (
	"context"

	"github.com/zorth44/sqlfluff-service/internal/bus"
	"github.com/zorth44/sqlfluff-service/internal/events"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

// Monitor is the control plane's observer on the result and monitoring
// channels. It logs worker outcomes and heartbeats; task state itself is
// updated by the workers, so nothing here mutates records.
type Monitor struct {
	bus bus.Bus
	log *logger.Logger
}

func New(b bus.Bus, log *logger.Logger) *Monitor {
	return &Monitor{bus: b, log: log.With("service", "Monitor")}
}

func (m *Monitor) Start(ctx context.Context) error {
	if err := m.bus.Subscribe(ctx, events.ChannelEvents, m.onResult); err != nil {
		return err
	}
	return m.bus.Subscribe(ctx, events.ChannelMonitoring, m.onHeartbeat)
}

func (m *Monitor) onResult(e events.Envelope) {
	switch p := e.Payload.(type) {
	case *events.SqlCheckCompleted:
		m.log.Info("Task completed",
			"job_id", p.JobID,
			"file_name", p.FileName,
			"worker_id", p.WorkerID,
			"duration", p.ProcessingDuration,
			"correlation_id", e.CorrelationID)
	case *events.SqlCheckFailed:
		m.log.Warn("Task failed",
			"job_id", p.JobID,
			"file_name", p.FileName,
			"worker_id", p.WorkerID,
			"kind", p.Error.Kind,
			"message", p.Error.Message,
			"correlation_id", e.CorrelationID)
	default:
		m.log.Debug("Unhandled result event", "event_type", e.EventType)
	}
}

func (m *Monitor) onHeartbeat(e events.Envelope) {
	hb, ok := e.Payload.(*events.WorkerHeartbeat)
	if !ok {
		return
	}
	m.log.Debug("Worker heartbeat",
		"worker_id", hb.WorkerID,
		"status", hb.Status,
		"current_tasks", hb.CurrentTasks,
		"total_processed", hb.TotalProcessed,
		"uptime_seconds", hb.UptimeSeconds)
}
