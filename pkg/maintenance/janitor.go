package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// DefaultJobTimeout bounds a single run of a scheduled job
const DefaultJobTimeout = time.Minute

// Purger deletes stale invitations and reports how many were removed
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Janitor runs periodic housekeeping on a cron schedule. Runs of the same
// job never overlap; a run still in progress when the next tick fires is
// skipped.
type Janitor struct {
	cron    *cron.Cron
	purger  Purger
	audit   audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
	timeout time.Duration
}

// Option configures a Janitor
type Option func(*Janitor)

// WithAuditLogger records housekeeping events
func WithAuditLogger(l audit.Logger) Option {
	return func(j *Janitor) { j.audit = l }
}

// WithMetrics counts purged invitations
func WithMetrics(m *observability.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

// WithJobTimeout overrides DefaultJobTimeout
func WithJobTimeout(d time.Duration) Option {
	return func(j *Janitor) { j.timeout = d }
}

// NewJanitor creates a Janitor for purger
func NewJanitor(purger Purger, logger *observability.Logger, opts ...Option) *Janitor {
	logger = logger.WithField("component", "maintenance")
	cl := cronLogger{logger}
	j := &Janitor{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		purger:  purger,
		audit:   audit.NoOp(),
		logger:  logger,
		timeout: DefaultJobTimeout,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SchedulePurge registers the invitation purge under spec, a standard cron
// expression or descriptor such as "@hourly".
func (j *Janitor) SchedulePurge(spec string) error {
	if _, err := j.cron.AddFunc(spec, func() {
		if _, err := j.PurgeNow(context.Background()); err != nil {
			j.logger.WithError(err).Error("invitation purge failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", spec, err)
	}
	j.logger.WithField("schedule", spec).Info("invitation purge scheduled")
	return nil
}

// PurgeNow runs one purge immediately
func (j *Janitor) PurgeNow(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	n, err := j.purger.Purge(audit.WithLogger(ctx, j.audit))
	if err != nil {
		return 0, err
	}
	if j.metrics != nil && n > 0 {
		j.metrics.InvitationsPurgedTotal.Add(float64(n))
	}
	return n, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.logger.Info("maintenance stopped")
	return nil
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
