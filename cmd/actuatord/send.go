package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yasunorioi/uecs-actuatord/internal/ccm"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
)

// NewSendCommand emits one raw CCM control packet, bypassing the scheduler.
// Field-testing tool: the scheduler's safety bounds do NOT apply here.
func NewSendCommand() *cobra.Command {
	var (
		priority int
		room     int
	)

	cmd := &cobra.Command{
		Use:   "send <ccm-type> <value>",
		Short: "Send a single raw CCM control packet (field testing)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if room == 0 {
				room = cfg.Bus.Room
			}

			sender, err := ccm.NewSender(ccm.SenderOptions{
				Room:          room,
				Region:        cfg.Bus.Region,
				Order:         cfg.Bus.Order,
				Retransmit:    cfg.Bus.Retransmit,
				RetransmitGap: cfg.Bus.RetransmitGap.Duration(),
			})
			if err != nil {
				return err
			}
			defer sender.Close()

			if err := sender.Send(context.Background(), args[0], args[1], priority); err != nil {
				return err
			}
			fmt.Printf("Sent %s=%s (priority=%d, room=%d)\n", args[0], args[1], priority, room)
			return nil
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", 10, "CCM priority (1=highest, 30=lowest)")
	cmd.Flags().IntVarP(&room, "room", "r", 0, "House/room number (default from config)")
	return cmd
}
