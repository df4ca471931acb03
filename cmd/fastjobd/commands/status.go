package commands

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/eliasyaoyc/fastjob/internal/db"
	"github.com/eliasyaoyc/fastjob/internal/logger"
)

// StatusCmd prints a snapshot of the configured store, without starting
// the scheduler or dispatcher. Useful for a quick health check against a
// stopped or remote deployment's database file.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a snapshot of the configured store's job/instance counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	rows := [][]string{
		{"Database", cfg.GetDatabasePath()},
	}
	counts := []struct{ label, query string }{
		{"Apps", "SELECT COUNT(*) FROM app_info"},
		{"Jobs", "SELECT COUNT(*) FROM job_info"},
		{"Instances", "SELECT COUNT(*) FROM instance_info"},
	}
	for _, c := range counts {
		var count int
		if err := sqlDB.QueryRow(c.query).Scan(&count); err != nil {
			return fmt.Errorf("count %s: %w", c.label, err)
		}
		rows = append(rows, []string{c.label, fmt.Sprintf("%d", count)})
	}

	pterm.DefaultTable.WithHasHeader(false).WithData(pterm.TableData(rows)).Render()
	return nil
}
