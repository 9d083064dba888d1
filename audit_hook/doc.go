// Package audithook is an extension that bridges job lifecycle events to
// an audit trail backend.
//
// Every job and cron lifecycle hook emits a structured audit event through
// the [Recorder] interface. The extension assigns severity levels (info for
// normal operations, warning for retries and reclaimed leases, critical for
// terminal failures) and metadata (supplier, attempt, record counts, error
// class).
//
// # Usage
//
// [LogRecorder] writes events to a slog.Logger, which is what the service
// binary installs. Any other backend can be bridged with a [RecorderFunc]:
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditStore.Insert(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
