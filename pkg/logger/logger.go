package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithActor creates a new logger entry with the acting identity field
func (l *Logger) WithActor(actorID string) *logrus.Entry {
	return l.Logger.WithField("actor_id", actorID)
}

// Audit logs audit events with structured format
func (l *Logger) Audit(actor, action, subjectID string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"audit":      true,
		"actor":      actor,
		"action":     action,
		"subject_id": subjectID,
		"success":    success,
		"details":    details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// Security logs security-related events
func (l *Logger) Security(event string, actorID string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security": true,
		"event":    event,
		"actor_id": actorID,
		"details":  details,
	}).Warn("Security event")
}

// Disclosure logs disclosure decisions. Every decision carries its
// machine-readable reason, never a bare boolean.
func (l *Logger) Disclosure(beneficiaryID, resourceType, decision, reason string, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"disclosure":     true,
		"beneficiary_id": beneficiaryID,
		"resource_type":  resourceType,
		"decision":       decision,
		"reason":         reason,
		"details":        details,
	})

	if decision == "allowed" {
		entry.Info("Disclosure granted")
	} else {
		entry.Warn("Disclosure withheld")
	}
}
