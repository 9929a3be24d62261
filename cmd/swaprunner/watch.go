package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"SwapRunner/internal/events"
)

func newWatchCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "watch",
		Short:        "Stream campaign events from the configured redis or rabbitmq bus",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, global)
			if err != nil {
				return err
			}
			defer a.Close()

			driver := strings.ToLower(a.cfg.Events.Driver)
			if driver == "memory" {
				return errors.New("events.driver memory is in-process only, configure redis or rabbitmq to watch")
			}
			bus, err := events.Open(ctx, a.cfg.Events)
			if err != nil {
				return err
			}
			if bus == nil {
				return errors.New("no event bus configured, set events.driver to redis or rabbitmq")
			}
			defer bus.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s events, press Ctrl+C to stop\n", driver)
			err = bus.Subscribe(ctx, func(_ context.Context, ev events.Event) error {
				fmt.Fprintln(out, ev.String())
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
