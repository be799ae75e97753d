// Package audithook records an audit trail of what a crank worker did.
//
// Every lifecycle hook becomes one [AuditEvent] handed to a [Recorder].
// Rounds and submitted batches are info, queues skipped for a reason are
// warnings, and batches the ledger rejected are critical. Recorder errors
// are logged and dropped.
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}),
//	    audithook.WithMinSeverity(audithook.SeverityWarning),
//	    audithook.WithQueues(treasuryQueue),
//	)
package audithook
