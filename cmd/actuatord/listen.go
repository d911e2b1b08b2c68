package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yasunorioi/uecs-actuatord/internal/app"
	"github.com/yasunorioi/uecs-actuatord/internal/ccm"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
)

// NewListenCommand dumps received CCM traffic until interrupted.
func NewListenCommand() *cobra.Command {
	var iface string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Dump received CCM multicast traffic (field testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if iface == "" {
				if cfg, err := config.Load(configPath); err == nil {
					iface = cfg.Bus.Interface
				}
			}

			receiver, err := ccm.NewReceiver(iface, func(pkt ccm.Packet) {
				fmt.Printf("%s %-24s %-10v room=%d prio=%-2d lv=%s %s\n",
					pkt.ReceivedAt.Format(time.TimeOnly),
					pkt.RawType, pkt.RawValue,
					pkt.Room, pkt.Priority, pkt.Level, pkt.SourceIP)
			})
			if err != nil {
				return err
			}

			return receiver.Run(app.SignalContext())
		},
	}

	cmd.Flags().StringVarP(&iface, "interface", "i", "", "Multicast interface (default from config)")
	return cmd
}
