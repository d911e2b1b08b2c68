package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/yasunorioi/uecs-actuatord/internal/config"
	"github.com/yasunorioi/uecs-actuatord/internal/statestore"
)

// NewStatusCommand prints the persisted state snapshot.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted actuator state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			records, clean, err := statestore.ReadFile(cfg.State.Path)
			if err != nil {
				return fmt.Errorf("failed to read state snapshot: %w", err)
			}

			if !clean {
				cmd.Println("WARNING: snapshot is from an unclean shutdown, positions are stale")
			}

			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			cmd.Printf("%-12s %9s %-12s %-6s %s\n", "ACTUATOR", "POSITION", "PHASE", "DIR", "CALIBRATED")
			for _, id := range ids {
				rec := records[id]
				calibrated := "-"
				if !rec.LastCalibratedAt.IsZero() {
					calibrated = rec.LastCalibratedAt.Local().Format("2006-01-02 15:04:05")
				}
				cmd.Printf("%-12s %8d%% %-12s %-6s %s\n",
					id, rec.Position, rec.Phase, rec.LastDirection, calibrated)
			}
			return nil
		},
	}
}
