package commands

import (
	"github.com/pterm/pterm"

	"github.com/eliasyaoyc/fastjob/internal/config"
	"github.com/eliasyaoyc/fastjob/internal/version"
)

// printStartupBanner prints the operator-facing startup summary.
func printStartupBanner(cfg *config.Config) {
	pterm.DefaultHeader.WithFullWidth().Println("FastJob control plane")

	info := version.Get()
	pterm.Info.Printf("Version:  %s\n", info.String())
	pterm.Info.Printf("Listen:   %s\n", cfg.Server.Addr)
	pterm.Info.Printf("Database: %s\n", cfg.GetDatabasePath())
	pterm.Info.Printf("Schedule interval: %ds, worker timeout: %ds\n",
		cfg.Scheduler.IntervalSeconds, cfg.Scheduler.WorkerTimeoutSeconds)
	if cfg.Server.GossipAddr != "" {
		pterm.Info.Printf("Gossip peer: %s\n", cfg.Server.GossipAddr)
	}
	pterm.Println()
	pterm.Println("Press Ctrl+C to stop")
}
