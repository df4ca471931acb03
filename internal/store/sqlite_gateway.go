package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/db"
	"github.com/eliasyaoyc/fastjob/internal/errors"
)

// SQLiteGateway implements Gateway over a database/sql handle opened by
// internal/db. It is the only place in the control plane that issues SQL.
type SQLiteGateway struct {
	db *sql.DB
}

// NewSQLiteGateway wraps an already-migrated *sql.DB as a Gateway.
func NewSQLiteGateway(db *sql.DB) *SQLiteGateway {
	return &SQLiteGateway{db: db}
}

var _ Gateway = (*SQLiteGateway)(nil)

func wrapStorage(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Mark(errors.Wrap(err, msg), errors.ErrStorage)
	if db.IsDatabaseClosed(err) {
		// Preserve the closed-database signal through the wrap so callers
		// racing Runtime.Stop can tell a clean shutdown from a real storage
		// fault (see scheduler.Loop.Tick).
		wrapped = errors.Mark(wrapped, db.ErrDatabaseClosed)
	}
	return wrapped
}

func notFound(msg string) error {
	return errors.Mark(errors.Newf(msg), errors.ErrNotFound)
}

func (g *SQLiteGateway) SaveAppInfo(ctx context.Context, app *AppInfo) error {
	now := time.Now()
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO app_info (app_name, current_server, gmt_create, gmt_modified)
		VALUES (?, ?, ?, ?)`,
		app.AppName, nullableString(app.CurrentServer), now, now)
	if err != nil {
		return wrapStorage(err, "save app_info")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapStorage(err, "read app_info id")
	}
	app.ID = uint64(id)
	return nil
}

func (g *SQLiteGateway) UpdateAppInfo(ctx context.Context, app *AppInfo) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE app_info SET current_server = ?, gmt_modified = ? WHERE id = ?`,
		nullableString(app.CurrentServer), time.Now(), app.ID)
	if err != nil {
		return wrapStorage(err, "update app_info")
	}
	return nil
}

func (g *SQLiteGateway) FindAppInfoByID(ctx context.Context, id uint64) (*AppInfo, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, app_name, current_server, gmt_create, gmt_modified FROM app_info WHERE id = ?`, id)
	return scanAppInfo(row)
}

func (g *SQLiteGateway) FindAppInfoByName(ctx context.Context, name string) (*AppInfo, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, app_name, current_server, gmt_create, gmt_modified FROM app_info WHERE app_name = ?`, name)
	return scanAppInfo(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppInfo(row rowScanner) (*AppInfo, error) {
	var a AppInfo
	var currentServer sql.NullString
	if err := row.Scan(&a.ID, &a.AppName, &currentServer, &a.GmtCreate, &a.GmtModified); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("app_info not found")
		}
		return nil, wrapStorage(err, "scan app_info")
	}
	a.CurrentServer = currentServer.String
	return &a, nil
}

func (g *SQLiteGateway) SaveJobInfo(ctx context.Context, job *JobInfo) error {
	now := time.Now()
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO job_info (
			app_id, status, processor_type, execute_type, time_expression_type,
			time_expression, next_trigger_time, concurrency, max_instance_num,
			max_worker_count, instance_retry_num, task_retry_num, instance_time_limit,
			min_cpu_cores, min_memory_gb, min_disk_gb, designated_workers, tag,
			notify_user_ids, job_params, dispatch_strategy, extra, gmt_create, gmt_modified
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.AppID, job.Status, job.ProcessorType, job.ExecuteType, job.TimeExpressionType,
		nullableString(job.TimeExpression), nullableInt64Ptr(job.NextTriggerTime), job.Concurrency,
		job.MaxInstanceNum, job.MaxWorkerCount, job.InstanceRetryNum, job.TaskRetryNum,
		job.InstanceTimeLimit, job.MinCPUCores, job.MinMemoryGB, job.MinDiskGB,
		nullableString(job.DesignatedWorkers), nullableString(job.Tag),
		nullableString(job.NotifyUserIDs), nullableString(job.JobParams), job.DispatchStrategy,
		nullableString(job.Extra), now, now)
	if err != nil {
		return wrapStorage(err, "save job_info")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapStorage(err, "read job_info id")
	}
	job.ID = uint64(id)
	return nil
}

func (g *SQLiteGateway) UpdateJobInfo(ctx context.Context, job *JobInfo) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE job_info SET
			status = ?, time_expression = ?, next_trigger_time = ?, gmt_modified = ?
		WHERE id = ?`,
		job.Status, nullableString(job.TimeExpression), nullableInt64Ptr(job.NextTriggerTime),
		time.Now(), job.ID)
	if err != nil {
		return wrapStorage(err, "update job_info")
	}
	return nil
}

func (g *SQLiteGateway) DeleteJobInfo(ctx context.Context, id uint64) error {
	_, err := g.db.ExecContext(ctx, `UPDATE job_info SET status = ?, gmt_modified = ? WHERE id = ?`,
		JobDeleted, time.Now(), id)
	return wrapStorage(err, "delete job_info")
}

const jobInfoColumns = `id, app_id, status, processor_type, execute_type, time_expression_type,
	time_expression, next_trigger_time, concurrency, max_instance_num, max_worker_count,
	instance_retry_num, task_retry_num, instance_time_limit, min_cpu_cores, min_memory_gb,
	min_disk_gb, designated_workers, tag, notify_user_ids, job_params, dispatch_strategy,
	extra, gmt_create, gmt_modified`

func scanJobInfo(row rowScanner) (*JobInfo, error) {
	var j JobInfo
	var timeExpr, designated, tag, notify, params, extra sql.NullString
	var nextTrigger sql.NullInt64
	if err := row.Scan(
		&j.ID, &j.AppID, &j.Status, &j.ProcessorType, &j.ExecuteType, &j.TimeExpressionType,
		&timeExpr, &nextTrigger, &j.Concurrency, &j.MaxInstanceNum, &j.MaxWorkerCount,
		&j.InstanceRetryNum, &j.TaskRetryNum, &j.InstanceTimeLimit, &j.MinCPUCores, &j.MinMemoryGB,
		&j.MinDiskGB, &designated, &tag, &notify, &params, &j.DispatchStrategy, &extra,
		&j.GmtCreate, &j.GmtModified,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("job_info not found")
		}
		return nil, wrapStorage(err, "scan job_info")
	}
	j.TimeExpression = timeExpr.String
	j.DesignatedWorkers = designated.String
	j.Tag = tag.String
	j.NotifyUserIDs = notify.String
	j.JobParams = params.String
	j.Extra = extra.String
	if nextTrigger.Valid {
		v := nextTrigger.Int64
		j.NextTriggerTime = &v
	}
	return &j, nil
}

func (g *SQLiteGateway) FindJobInfoByID(ctx context.Context, id uint64) (*JobInfo, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+jobInfoColumns+` FROM job_info WHERE id = ?`, id)
	return scanJobInfo(row)
}

func (g *SQLiteGateway) FindJobInfoByInstanceID(ctx context.Context, instanceID uint64) (*JobInfo, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT `+prefixColumns("j", jobInfoColumns)+`
		FROM job_info j JOIN instance_info i ON i.job_id = j.id
		WHERE i.instance_id = ?`, instanceID)
	return scanJobInfo(row)
}

func (g *SQLiteGateway) FindJobInfoByAppID(ctx context.Context, appID uint64) ([]*JobInfo, error) {
	query := fmt.Sprintf(`SELECT %s FROM job_info WHERE app_id = ? AND status != ?`, jobInfoColumns)
	return queryJobInfos(ctx, g.db, query, appID, JobDeleted)
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (g *SQLiteGateway) SaveInstanceInfo(ctx context.Context, inst *InstanceInfo) error {
	return g.SaveInstanceInfoBatch(ctx, []*InstanceInfo{inst})
}

func (g *SQLiteGateway) SaveInstanceInfoBatch(ctx context.Context, insts []*InstanceInfo) error {
	if len(insts) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage(err, "begin instance batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instance_info (
			instance_id, job_id, app_id, instance_type, wf_instance_id, status, result,
			expected_trigger_time, actual_trigger_time, finished_time, last_report_time,
			task_tracker_address, running_times, job_params, instance_params,
			gmt_create, gmt_modified
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return wrapStorage(err, "prepare instance batch insert")
	}
	defer stmt.Close()

	now := time.Now()
	for _, inst := range insts {
		res, err := stmt.ExecContext(ctx,
			inst.InstanceID, inst.JobID, inst.AppID, inst.InstanceType, nullableUint64Ptr(inst.WfInstanceID),
			inst.Status, nullableString(inst.Result), inst.ExpectedTriggerTime,
			nullableInt64Ptr(inst.ActualTriggerTime), nullableInt64Ptr(inst.FinishedTime),
			inst.LastReportTime, nullableString(inst.TaskTrackerAddress), inst.RunningTimes,
			nullableString(inst.JobParams), nullableString(inst.InstanceParams), now, now)
		if err != nil {
			return wrapStorage(err, "insert instance_info")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return wrapStorage(err, "read instance_info id")
		}
		inst.ID = uint64(id)
	}

	if err := tx.Commit(); err != nil {
		return wrapStorage(err, "commit instance batch")
	}
	return nil
}

func (g *SQLiteGateway) UpdateInstanceInfo(ctx context.Context, inst *InstanceInfo) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE instance_info SET
			status = ?, result = ?, actual_trigger_time = ?, finished_time = ?,
			last_report_time = ?, task_tracker_address = ?, running_times = ?, gmt_modified = ?
		WHERE instance_id = ?`,
		inst.Status, nullableString(inst.Result), nullableInt64Ptr(inst.ActualTriggerTime),
		nullableInt64Ptr(inst.FinishedTime), inst.LastReportTime, nullableString(inst.TaskTrackerAddress),
		inst.RunningTimes, time.Now(), inst.InstanceID)
	if err != nil {
		return wrapStorage(err, "update instance_info")
	}
	return nil
}

func (g *SQLiteGateway) DeleteInstanceInfo(ctx context.Context, id uint64) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM instance_info WHERE instance_id = ?`, id)
	return wrapStorage(err, "delete instance_info")
}

const instanceInfoColumns = `id, instance_id, job_id, app_id, instance_type, wf_instance_id, status, result,
	expected_trigger_time, actual_trigger_time, finished_time, last_report_time,
	task_tracker_address, running_times, job_params, instance_params, gmt_create, gmt_modified`

func scanInstanceInfo(row rowScanner) (*InstanceInfo, error) {
	var i InstanceInfo
	var wfID sql.NullInt64
	var result, tracker, jobParams, instParams sql.NullString
	var actualTrigger, finished sql.NullInt64
	if err := row.Scan(
		&i.ID, &i.InstanceID, &i.JobID, &i.AppID, &i.InstanceType, &wfID, &i.Status, &result,
		&i.ExpectedTriggerTime, &actualTrigger, &finished, &i.LastReportTime, &tracker,
		&i.RunningTimes, &jobParams, &instParams, &i.GmtCreate, &i.GmtModified,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound("instance_info not found")
		}
		return nil, wrapStorage(err, "scan instance_info")
	}
	i.Result = result.String
	i.TaskTrackerAddress = tracker.String
	i.JobParams = jobParams.String
	i.InstanceParams = instParams.String
	if wfID.Valid {
		v := uint64(wfID.Int64)
		i.WfInstanceID = &v
	}
	if actualTrigger.Valid {
		v := actualTrigger.Int64
		i.ActualTriggerTime = &v
	}
	if finished.Valid {
		v := finished.Int64
		i.FinishedTime = &v
	}
	return &i, nil
}

func (g *SQLiteGateway) FindInstanceByID(ctx context.Context, instanceID uint64) (*InstanceInfo, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+instanceInfoColumns+` FROM instance_info WHERE instance_id = ?`, instanceID)
	return scanInstanceInfo(row)
}

func (g *SQLiteGateway) FindStaleInstances(ctx context.Context, appIDs []uint64, statuses []InstanceStatus, reportThresholdMS int64) ([]*InstanceInfo, error) {
	if len(appIDs) == 0 || len(statuses) == 0 {
		return nil, nil
	}
	appPlaceholders, args := inClause(appIDs)
	statusPlaceholders, statusArgs := inClauseStatus(statuses)
	args = append(args, statusArgs...)
	args = append(args, reportThresholdMS)
	query := fmt.Sprintf(`SELECT %s FROM instance_info
		WHERE app_id IN (%s) AND status IN (%s) AND last_report_time <= ?`,
		instanceInfoColumns, appPlaceholders, statusPlaceholders)
	return queryInstanceInfos(ctx, g.db, query, args...)
}

func queryInstanceInfos(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*InstanceInfo, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(err, "query instance_info")
	}
	defer rows.Close()

	var insts []*InstanceInfo
	for rows.Next() {
		inst, err := scanInstanceInfo(rows)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

func (g *SQLiteGateway) FindAllAppIDByCurrentServer(ctx context.Context, selfAddr string) ([]uint64, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id FROM app_info WHERE current_server = ?`, selfAddr)
	if err != nil {
		return nil, wrapStorage(err, "query owned apps")
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(err, "scan owned app id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (g *SQLiteGateway) FindAllAppIDs(ctx context.Context) ([]uint64, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id FROM app_info`)
	if err != nil {
		return nil, wrapStorage(err, "query all apps")
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(err, "scan app id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (g *SQLiteGateway) FindCronJobs(ctx context.Context, appIDs []uint64, thresholdMS int64) ([]*JobInfo, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(appIDs)
	args = append(args, JobRunning, TimeExpressionCRON, thresholdMS)
	query := fmt.Sprintf(`SELECT %s FROM job_info
		WHERE app_id IN (%s) AND status = ? AND time_expression_type = ? AND next_trigger_time <= ?`,
		jobInfoColumns, placeholders)
	return queryJobInfos(ctx, g.db, query, args...)
}

func (g *SQLiteGateway) FindFrequentJobs(ctx context.Context, appIDs []uint64) ([]*JobInfo, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(appIDs)
	args = append(args, JobRunning, TimeExpressionFixRate, TimeExpressionFixDelay)
	query := fmt.Sprintf(`SELECT %s FROM job_info
		WHERE app_id IN (%s) AND status = ? AND time_expression_type IN (?, ?)`,
		jobInfoColumns, placeholders)
	return queryJobInfos(ctx, g.db, query, args...)
}

func (g *SQLiteGateway) FindWorkflowJobs(ctx context.Context, appIDs []uint64) ([]*JobInfo, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(appIDs)
	args = append(args, JobRunning, TimeExpressionWorkflow)
	query := fmt.Sprintf(`SELECT %s FROM job_info
		WHERE app_id IN (%s) AND status = ? AND time_expression_type = ?`,
		jobInfoColumns, placeholders)
	return queryJobInfos(ctx, g.db, query, args...)
}

func queryJobInfos(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*JobInfo, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(err, "query job_info")
	}
	defer rows.Close()

	var jobs []*JobInfo
	for rows.Next() {
		j, err := scanJobInfo(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (g *SQLiteGateway) FindFrequentRunningJobIDs(ctx context.Context, appIDs []uint64) ([]uint64, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(appIDs)
	args = append(args, WaitingDispatch, WaitingWorkerReceive, Running)
	query := fmt.Sprintf(`
		SELECT DISTINCT i.job_id FROM instance_info i
		JOIN job_info j ON j.id = i.job_id
		WHERE j.app_id IN (%s) AND i.status IN (?, ?, ?)`, placeholders)

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(err, "query frequent running jobs")
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(err, "scan frequent running job id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (g *SQLiteGateway) CountInstancesByStatus(ctx context.Context, jobID uint64, statuses []InstanceStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders, args := inClauseStatus(statuses)
	args = append([]interface{}{jobID}, args...)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM instance_info WHERE job_id = ? AND status IN (%s)`, placeholders)

	var count int
	err := g.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, wrapStorage(err, "count instances by status")
	}
	return count, nil
}

// TryAcquireLock implements spec.md §4.2's CAS-style election lock: succeeds
// iff no live row exists (no row, or the row's hold window has expired) or
// the live row is already owned by owner; any other case fails.
func (g *SQLiteGateway) TryAcquireLock(ctx context.Context, name string, maxHoldMS int64, owner string) (bool, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapStorage(err, "begin lock tx")
	}
	defer tx.Rollback()

	var existingOwner string
	var gmtModified time.Time
	err = tx.QueryRowContext(ctx, `SELECT owner, gmt_modified FROM lock WHERE lock_name = ?`, name).
		Scan(&existingOwner, &gmtModified)

	now := time.Now()
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lock (lock_name, owner, max_lock_time, gmt_create, gmt_modified)
			VALUES (?, ?, ?, ?, ?)`, name, owner, maxHoldMS, now, now); err != nil {
			return false, wrapStorage(err, "insert lock")
		}
	case err != nil:
		return false, wrapStorage(err, "query lock")
	case existingOwner == owner:
		if _, err := tx.ExecContext(ctx, `UPDATE lock SET gmt_modified = ? WHERE lock_name = ?`, now, name); err != nil {
			return false, wrapStorage(err, "refresh lock")
		}
	case now.Sub(gmtModified).Milliseconds() > maxHoldMS:
		if _, err := tx.ExecContext(ctx, `
			UPDATE lock SET owner = ?, gmt_modified = ? WHERE lock_name = ?`, owner, now, name); err != nil {
			return false, wrapStorage(err, "steal expired lock")
		}
	default:
		return false, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return false, wrapStorage(err, "commit lock tx")
	}
	return true, nil
}

func (g *SQLiteGateway) SaveServerInfo(ctx context.Context, s *ServerInfo) error {
	now := time.Now()
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO server_info (address, last_heartbeat, gmt_create, gmt_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET last_heartbeat = excluded.last_heartbeat, gmt_modified = excluded.gmt_modified`,
		s.Address, s.LastHeartbeat, now, now)
	return wrapStorage(err, "save server_info")
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableUint64Ptr(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func inClause(ids []uint64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

func inClauseStatus(statuses []InstanceStatus) (string, []interface{}) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = s
	}
	return strings.Join(placeholders, ","), args
}

// FormatAppIDChunks splits appIDs into chunks of size n (spec.md §4.5
// "process app_ids in chunks of 10").
func FormatAppIDChunks(appIDs []uint64, n int) [][]uint64 {
	if n <= 0 {
		n = 10
	}
	var chunks [][]uint64
	for i := 0; i < len(appIDs); i += n {
		end := i + n
		if end > len(appIDs) {
			end = len(appIDs)
		}
		chunks = append(chunks, appIDs[i:end])
	}
	return chunks
}

// DebugString renders ids for log lines without allocating a full %v dump
// of a large slice.
func DebugString(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
