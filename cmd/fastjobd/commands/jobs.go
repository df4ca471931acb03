package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/eliasyaoyc/fastjob/internal/db"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// JobsCmd groups job-definition management subcommands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage job definitions",
}

// JobsLoadCmd bulk-registers job definitions from a TOML file, the offline
// equivalent of repeatedly calling the job registration RPC (spec.md §6).
var JobsLoadCmd = &cobra.Command{
	Use:   "load <file.toml>",
	Short: "Load job definitions from a TOML file into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLoad,
}

func init() {
	JobsCmd.AddCommand(JobsLoadCmd)
	JobsCmd.AddCommand(JobsExportCmd)
}

// jobFile is the TOML document shape accepted by `jobs load`.
type jobFile struct {
	Job []jobDefinition `toml:"job" yaml:"job"`
}

type jobDefinition struct {
	AppID              uint64  `toml:"app_id" yaml:"app_id"`
	ProcessorType      string  `toml:"processor_type" yaml:"processor_type"`             // java|shell
	ExecuteType        string  `toml:"execute_type" yaml:"execute_type"`                 // standalone|broadcast|map_reduce
	TimeExpressionType string  `toml:"time_expression_type" yaml:"time_expression_type"` // api|cron|fix_rate|fix_delay|workflow
	TimeExpression     string  `toml:"time_expression" yaml:"time_expression"`
	Concurrency        int     `toml:"concurrency" yaml:"concurrency"`
	MaxInstanceNum     int     `toml:"max_instance_num" yaml:"max_instance_num"`
	MaxWorkerCount     int     `toml:"max_worker_count" yaml:"max_worker_count"`
	InstanceRetryNum   int     `toml:"instance_retry_num" yaml:"instance_retry_num"`
	TaskRetryNum       int     `toml:"task_retry_num" yaml:"task_retry_num"`
	InstanceTimeLimit  int64   `toml:"instance_time_limit" yaml:"instance_time_limit"`
	MinCPUCores        float64 `toml:"min_cpu_cores" yaml:"min_cpu_cores"`
	MinMemoryGB        float64 `toml:"min_memory_gb" yaml:"min_memory_gb"`
	MinDiskGB          float64 `toml:"min_disk_gb" yaml:"min_disk_gb"`
	DesignatedWorkers  string  `toml:"designated_workers" yaml:"designated_workers"`
	Tag                string  `toml:"tag" yaml:"tag"`
	NotifyUserIDs      string  `toml:"notify_user_ids" yaml:"notify_user_ids"`
	JobParams          string  `toml:"job_params" yaml:"job_params"`
	// DispatchStrategy is a pass-through value: stored and round-tripped,
	// read nowhere else (spec.md §9 Open Questions).
	DispatchStrategy   uint32  `toml:"dispatch_strategy" yaml:"dispatch_strategy"`
	Extra              string  `toml:"extra" yaml:"extra"`
}

func runJobsLoad(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return &UsageError{Err: fmt.Errorf("read %s: %w", args[0], err)}
	}

	var file jobFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return &UsageError{Err: fmt.Errorf("parse %s: %w", args[0], err)}
	}
	if len(file.Job) == 0 {
		return &UsageError{Err: fmt.Errorf("%s defines no [[job]] entries", args[0])}
	}

	sqlDB, err := sql.Open("sqlite3", cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	if err := db.Migrate(sqlDB, logger.ComponentLogger("db")); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	gw := store.NewSQLiteGateway(sqlDB)

	ctx := context.Background()
	for i, def := range file.Job {
		job, err := def.toJobInfo()
		if err != nil {
			return &UsageError{Err: fmt.Errorf("job[%d]: %w", i, err)}
		}
		if err := gw.SaveJobInfo(ctx, job); err != nil {
			return fmt.Errorf("save job[%d]: %w", i, err)
		}
		pterm.Success.Printf("loaded job %d (app %d, %s)\n", job.ID, job.AppID, def.TimeExpressionType)
	}

	pterm.Info.Printf("loaded %d job(s) from %s\n", len(file.Job), args[0])
	return nil
}

func (d jobDefinition) toJobInfo() (*store.JobInfo, error) {
	processorType, err := parseProcessorType(d.ProcessorType)
	if err != nil {
		return nil, err
	}
	executeType, err := parseExecuteType(d.ExecuteType)
	if err != nil {
		return nil, err
	}
	timeExpressionType, err := parseTimeExpressionType(d.TimeExpressionType)
	if err != nil {
		return nil, err
	}

	return &store.JobInfo{
		AppID:              d.AppID,
		Status:             store.JobRunning,
		ProcessorType:      processorType,
		ExecuteType:        executeType,
		TimeExpressionType: timeExpressionType,
		TimeExpression:     d.TimeExpression,
		Concurrency:        d.Concurrency,
		MaxInstanceNum:     d.MaxInstanceNum,
		MaxWorkerCount:     d.MaxWorkerCount,
		InstanceRetryNum:   d.InstanceRetryNum,
		TaskRetryNum:       d.TaskRetryNum,
		InstanceTimeLimit:  d.InstanceTimeLimit,
		MinCPUCores:        d.MinCPUCores,
		MinMemoryGB:        d.MinMemoryGB,
		MinDiskGB:          d.MinDiskGB,
		DesignatedWorkers:  d.DesignatedWorkers,
		Tag:                d.Tag,
		NotifyUserIDs:      d.NotifyUserIDs,
		JobParams:          d.JobParams,
		DispatchStrategy:   d.DispatchStrategy,
		Extra:              d.Extra,
	}, nil
}

func parseProcessorType(s string) (store.ProcessorType, error) {
	switch s {
	case "", "java":
		return store.ProcessorJava, nil
	case "shell":
		return store.ProcessorShell, nil
	default:
		return 0, fmt.Errorf("unknown processor_type %q (want java|shell)", s)
	}
}

func parseExecuteType(s string) (store.ExecuteType, error) {
	switch s {
	case "", "standalone":
		return store.ExecuteStandalone, nil
	case "broadcast":
		return store.ExecuteBroadcast, nil
	case "map_reduce":
		return store.ExecuteMapReduce, nil
	default:
		return 0, fmt.Errorf("unknown execute_type %q (want standalone|broadcast|map_reduce)", s)
	}
}

func parseTimeExpressionType(s string) (store.TimeExpressionType, error) {
	switch s {
	case "", "api":
		return store.TimeExpressionAPI, nil
	case "cron":
		return store.TimeExpressionCRON, nil
	case "fix_rate":
		return store.TimeExpressionFixRate, nil
	case "fix_delay":
		return store.TimeExpressionFixDelay, nil
	case "workflow":
		return store.TimeExpressionWorkflow, nil
	default:
		return 0, fmt.Errorf("unknown time_expression_type %q (want api|cron|fix_rate|fix_delay|workflow)", s)
	}
}

func fromJobInfo(j *store.JobInfo) jobDefinition {
	return jobDefinition{
		AppID:              j.AppID,
		ProcessorType:      processorTypeName(j.ProcessorType),
		ExecuteType:        executeTypeName(j.ExecuteType),
		TimeExpressionType: timeExpressionTypeName(j.TimeExpressionType),
		TimeExpression:     j.TimeExpression,
		Concurrency:        j.Concurrency,
		MaxInstanceNum:     j.MaxInstanceNum,
		MaxWorkerCount:     j.MaxWorkerCount,
		InstanceRetryNum:   j.InstanceRetryNum,
		TaskRetryNum:       j.TaskRetryNum,
		InstanceTimeLimit:  j.InstanceTimeLimit,
		MinCPUCores:        j.MinCPUCores,
		MinMemoryGB:        j.MinMemoryGB,
		MinDiskGB:          j.MinDiskGB,
		DesignatedWorkers:  j.DesignatedWorkers,
		Tag:                j.Tag,
		NotifyUserIDs:      j.NotifyUserIDs,
		JobParams:          j.JobParams,
		DispatchStrategy:   j.DispatchStrategy,
		Extra:              j.Extra,
	}
}

func processorTypeName(t store.ProcessorType) string {
	if t == store.ProcessorShell {
		return "shell"
	}
	return "java"
}

func executeTypeName(t store.ExecuteType) string {
	switch t {
	case store.ExecuteBroadcast:
		return "broadcast"
	case store.ExecuteMapReduce:
		return "map_reduce"
	default:
		return "standalone"
	}
}

func timeExpressionTypeName(t store.TimeExpressionType) string {
	switch t {
	case store.TimeExpressionCRON:
		return "cron"
	case store.TimeExpressionFixRate:
		return "fix_rate"
	case store.TimeExpressionFixDelay:
		return "fix_delay"
	case store.TimeExpressionWorkflow:
		return "workflow"
	default:
		return "api"
	}
}
