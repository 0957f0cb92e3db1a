package audit

import (
	"context"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// LogLogger writes audit events to the structured application log
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates an audit logger backed by logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

// Log implements Logger
func (l *LogLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	setIf(fields, "actor_id", event.ActorID)
	setIf(fields, "organization_id", event.OrganizationID)
	setIf(fields, "resource_type", string(event.ResourceType))
	setIf(fields, "resource_id", event.ResourceID)
	setIf(fields, "reason", event.Reason)
	setIf(fields, "ip_address", event.IPAddress)
	setIf(fields, "request_id", event.RequestID)
	setIf(fields, "method", event.Method)
	setIf(fields, "path", event.Path)
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	switch event.Status {
	case EventStatusDenied, EventStatusFailure:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
	return nil
}

// Close implements Logger
func (l *LogLogger) Close() error {
	return nil
}

func setIf(fields map[string]interface{}, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
