package main

import (
	"fmt"

	"github.com/executive-assistant/ken/internal/config"
)

// ValidateCmd loads and validates a config file, printing a short summary
// on success, mirroring the teacher's ValidateCmd but against this
// runtime's single Config shape rather than per-agent YAML documents.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	fmt.Println("Configuration is valid.")
	fmt.Printf("  llm: default_provider=%s providers=%d\n", cfg.LLM.DefaultProvider, len(cfg.LLM.Providers))
	fmt.Printf("  storage: root=%s postgres=%v\n", cfg.Storage.Root, cfg.Storage.PostgresDSN != "")
	fmt.Printf("  channels: http=%s telegram=%v discord=%v\n",
		cfg.Channels.HTTP.Addr, cfg.Channels.Telegram.Enabled, cfg.Channels.Discord.Enabled)
	fmt.Printf("  scheduler: tick=%ds\n", cfg.Scheduler.TickIntervalSeconds)
	fmt.Printf("  memory: vector_backend=%s\n", cfg.Memory.VectorBackend)
	return nil
}
