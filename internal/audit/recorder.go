package audit

import (
	"context"
	"sync"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// Recorder is the default audit sink: every event is emitted to the
// structured log and retained in a bounded in-memory ring for inspection.
// Recording is a side effect of the operation that triggered it and never
// fails the operation.
type Recorder struct {
	logger *logger.Logger

	mu     sync.Mutex
	events []access.AuditEvent
	limit  int
}

// NewRecorder creates an audit recorder retaining up to limit recent events
func NewRecorder(log *logger.Logger, limit int) *Recorder {
	if limit <= 0 {
		limit = 1000
	}
	return &Recorder{
		logger: log,
		limit:  limit,
	}
}

// Record emits the event to the structured log and appends it to the ring
func (r *Recorder) Record(ctx context.Context, event access.AuditEvent) {
	r.logger.Audit(event.Actor, event.Action, event.SubjectID, event.Result == "success", event.Details)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Recent returns up to n most recent events, newest last
func (r *Recorder) Recent(n int) []access.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}
	out := make([]access.AuditEvent, n)
	copy(out, r.events[len(r.events)-n:])
	return out
}
