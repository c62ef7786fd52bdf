package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// Sender delivers a single notification over one channel (email, push, ...)
type Sender interface {
	Send(ctx context.Context, notification access.Notification) error
}

// Dispatcher fans a notification out to all registered senders.
// Fire-and-forget: delivery failures are logged and swallowed so they never
// roll back the state transition that triggered the notification.
type Dispatcher struct {
	senders []Sender
	logger  *logger.Logger
}

// NewDispatcher creates a dispatcher over the given senders
func NewDispatcher(log *logger.Logger, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		logger:  log,
	}
}

// Notify delivers the notification through every sender
func (d *Dispatcher) Notify(ctx context.Context, notification access.Notification) {
	for _, sender := range d.senders {
		if err := sender.Send(ctx, notification); err != nil {
			d.logger.WithFields(logrus.Fields{
				"recipient_id": notification.RecipientID,
				"kind":         notification.Kind,
				"error":        err.Error(),
			}).Warn("Notification delivery failed")
		}
	}
}

// LogSender writes notifications to the structured log. It stands in when no
// delivery channel is configured so notification flow stays observable.
type LogSender struct {
	logger *logger.Logger
}

// NewLogSender creates a log-backed sender
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

// Send logs the notification
func (s *LogSender) Send(ctx context.Context, notification access.Notification) error {
	s.logger.WithFields(logrus.Fields{
		"recipient_id": notification.RecipientID,
		"kind":         notification.Kind,
		"subject":      notification.Subject,
	}).Info("Notification dispatched")
	return nil
}
