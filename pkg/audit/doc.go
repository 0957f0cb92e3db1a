// Package audit records security-relevant events: denials, the bootstrap
// outcome, role and membership changes, and the invitation lifecycle.
//
// Sinks implement Logger:
//
//	LogLogger   - structured application log (logrus)
//	DBLogger    - audit_logs table in PostgreSQL
//	MultiLogger - fan-out, optionally asynchronous
//
// Middleware stores the logger and request metadata in the context so that
// services can call
//
//	event := audit.NewEvent(ctx, audit.EventTypeOrgDelete, audit.EventStatusSuccess)
//	event.OrganizationID = org.ID
//	_ = audit.FromContext(ctx).Log(ctx, event)
//
// A missing logger degrades to a no-op; auditing never blocks a request.
package audit
