package store

import "context"

// Gateway is the thin façade over the persistent store that C5-C8 depend
// on (spec.md §4.2). Every method is idempotent on (id); failures are
// returned as typed errors (internal/errors taxonomy) for callers to
// decide retry vs. fatal.
type Gateway interface {
	SaveAppInfo(ctx context.Context, app *AppInfo) error
	UpdateAppInfo(ctx context.Context, app *AppInfo) error
	FindAppInfoByID(ctx context.Context, id uint64) (*AppInfo, error)
	FindAppInfoByName(ctx context.Context, name string) (*AppInfo, error)

	SaveJobInfo(ctx context.Context, job *JobInfo) error
	UpdateJobInfo(ctx context.Context, job *JobInfo) error
	DeleteJobInfo(ctx context.Context, id uint64) error
	FindJobInfoByID(ctx context.Context, id uint64) (*JobInfo, error)
	FindJobInfoByInstanceID(ctx context.Context, instanceID uint64) (*JobInfo, error)

	// FindJobInfoByAppID lists every non-deleted job definition for appID,
	// used by offline tooling (e.g. `fastjobd jobs export`).
	FindJobInfoByAppID(ctx context.Context, appID uint64) ([]*JobInfo, error)

	SaveInstanceInfo(ctx context.Context, inst *InstanceInfo) error
	SaveInstanceInfoBatch(ctx context.Context, insts []*InstanceInfo) error
	UpdateInstanceInfo(ctx context.Context, inst *InstanceInfo) error
	DeleteInstanceInfo(ctx context.Context, id uint64) error
	FindInstanceByID(ctx context.Context, instanceID uint64) (*InstanceInfo, error)

	// FindAllAppIDByCurrentServer returns apps owned by selfAddr (spec.md §4.2).
	FindAllAppIDByCurrentServer(ctx context.Context, selfAddr string) ([]uint64, error)

	// FindAllAppIDs returns every known app id, the election sweep's
	// candidate set for ownership.Service.RunElection (spec.md §4.4).
	FindAllAppIDs(ctx context.Context) ([]uint64, error)

	// FindCronJobs returns Running CRON jobs among appIDs whose next_trigger_time
	// is <= thresholdMS (spec.md §4.2, §4.5 CRON pipeline).
	FindCronJobs(ctx context.Context, appIDs []uint64, thresholdMS int64) ([]*JobInfo, error)

	// FindFrequentJobs returns Running FixRate/FixDelay jobs among appIDs.
	FindFrequentJobs(ctx context.Context, appIDs []uint64) ([]*JobInfo, error)

	// FindWorkflowJobs returns Running Workflow jobs among appIDs (spec.md
	// §4.5 workflow pipeline hook).
	FindWorkflowJobs(ctx context.Context, appIDs []uint64) ([]*JobInfo, error)

	// FindFrequentRunningJobIDs returns job IDs among appIDs that already have
	// a non-terminal instance (spec.md §4.5 frequent pipeline single-flight guard).
	FindFrequentRunningJobIDs(ctx context.Context, appIDs []uint64) ([]uint64, error)

	// CountInstancesByStatus counts non-deleted instances of jobID in any of statuses.
	CountInstancesByStatus(ctx context.Context, jobID uint64, statuses []InstanceStatus) (int, error)

	// FindStaleInstances returns instances among appIDs in one of statuses
	// whose last_report_time is at or before reportThresholdMS, the
	// reconciler's periodic-scan redispatch candidates (spec.md §4.8).
	FindStaleInstances(ctx context.Context, appIDs []uint64, statuses []InstanceStatus, reportThresholdMS int64) ([]*InstanceInfo, error)

	// TryAcquireLock attempts the election lock used by C4 (spec.md §4.2, §4.4).
	// Succeeds iff no live row exists or the live row's owner == owner.
	TryAcquireLock(ctx context.Context, name string, maxHoldMS int64, owner string) (bool, error)

	SaveServerInfo(ctx context.Context, s *ServerInfo) error
}
