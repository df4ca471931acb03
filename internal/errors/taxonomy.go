package errors

// Taxonomy markers for the error kinds enumerated in the control-plane spec.
// Callers attach one of these as the innermost cause and check with Is;
// HTTP-facing code maps them to status codes at the RPC boundary.
var (
	// ErrStorage marks any persistence failure. Scheduler-side callers retry
	// at the next tick; user-facing RPCs surface it as a 500.
	ErrStorage = New("storage error")

	// ErrNotFound marks a missing entity. Dispatcher drops silently;
	// user RPCs return 404.
	ErrNotFound = New("not found")

	// ErrPermissionDenied marks a cross-tenant access attempt. Returns 403.
	ErrPermissionDenied = New("permission denied")

	// ErrWorkerUnregistered marks an unknown app_name/app_id.
	ErrWorkerUnregistered = New("worker unregistered")

	// ErrLookupFailed marks ownership election exhausting its retries.
	// Returns 503; caller should retry.
	ErrLookupFailed = New("ownership lookup failed")

	// ErrSchedulerBusy marks a dispatch turned away because the dispatcher's
	// rate limiter had no token left. Returns 429.
	ErrSchedulerBusy = New("scheduler busy")

	// ErrConstructorTaskFailed marks a job row that failed to build into a
	// runnable job (e.g. invalid CRON expression). The row is marked Disabled.
	ErrConstructorTaskFailed = New("job construction failed")

	// ErrTransport marks an RPC send failure. The dispatcher logs and leaves
	// the instance in WaitingWorkerReceive; the reconciler's timeout path
	// handles redispatch.
	ErrTransport = New("transport error")
)
