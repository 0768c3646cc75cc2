// Package audit records the terminal access trail: tokens issued and
// rejected, sessions started and ended, and backend connection failures.
//
// Records go to the terminal_audit_logs table and to the standard logger
// under the [audit] prefix. [InitGlobal] installs the process-wide
// [Auditor] at startup; the Log* helpers in helpers.go are no-ops until then,
// so packages can record events without threading an Auditor through.
//
// Entries older than the retention period are removed by
// [Auditor.PurgeOlderThan], which the server schedules daily.
package audit
