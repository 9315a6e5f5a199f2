package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/stack"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running services and core container health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Global()

		st := stack.New(cfg.Stack.ComposeFile, cfg.Stack.CoreContainers, log)
		services, err := st.RunningServices(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("running services: %d\n", len(services))
		for _, s := range services {
			fmt.Printf("  %s\n", s)
		}
		for _, name := range cfg.Stack.CoreContainers {
			health, err := st.Health(cmd.Context(), name)
			if err != nil {
				health = "unknown"
			}
			fmt.Printf("%s: %s\n", name, health)
		}
		return nil
	},
}
