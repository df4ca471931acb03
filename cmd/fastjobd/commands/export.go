package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/BurntSushi/toml"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v3"

	"github.com/eliasyaoyc/fastjob/internal/db"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

var exportAppID uint64

// JobsExportCmd dumps every job definition for one app back out to a file,
// the reverse of `jobs load`. The output format is chosen from the file
// extension (.toml or .yaml/.yml), so a fleet's job definitions can round
// trip through whichever format its GitOps tooling already standardized on.
var JobsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export one app's job definitions to a TOML or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsExport,
}

func init() {
	JobsExportCmd.Flags().Uint64Var(&exportAppID, "app-id", 0, "app id to export job definitions for (required)")
}

func runJobsExport(cmd *cobra.Command, args []string) error {
	if exportAppID == 0 {
		return &UsageError{Err: fmt.Errorf("--app-id is required")}
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
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

	jobs, err := gw.FindJobInfoByAppID(context.Background(), exportAppID)
	if err != nil {
		return fmt.Errorf("list jobs for app %d: %w", exportAppID, err)
	}

	file := jobFile{Job: make([]jobDefinition, 0, len(jobs))}
	for _, j := range jobs {
		file.Job = append(file.Job, fromJobInfo(j))
	}

	f, err := os.Create(args[0])
	if err != nil {
		return &UsageError{Err: fmt.Errorf("create %s: %w", args[0], err)}
	}
	defer f.Close()

	if isYAMLPath(args[0]) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		if err := enc.Encode(file); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
	} else {
		if err := toml.NewEncoder(f).Encode(file); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
	}

	pterm.Info.Printf("exported %d job(s) for app %d to %s\n", len(file.Job), exportAppID, args[0])
	return nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
