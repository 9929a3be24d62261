package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"SwapRunner/internal/proxy"
)

func newProxiesCmd(global *globalOptions) *cobra.Command {
	var deadOnly bool
	cmd := &cobra.Command{
		Use:          "proxies",
		Short:        "Probe every proxy in the proxy file and report which ones work",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if a.pool.Len() == 0 {
				fmt.Fprintf(out, "No proxies found in %s\n", a.cfg.Proxy.File)
				return nil
			}
			p := a.cfg.Proxy
			fmt.Fprintf(out, "Probing %d proxies against %s...\n", a.pool.Len(), p.ProbeURL)
			results := a.pool.CheckAll(cmd.Context(), p.ProbeURL, p.ProbeTimeout, p.Parallelism)
			printHealth(out, results, deadOnly)
			return cmd.Context().Err()
		},
	}
	cmd.Flags().BoolVar(&deadOnly, "dead", false, "only list proxies that failed the probe")
	return cmd
}

func printHealth(w io.Writer, results []proxy.Health, deadOnly bool) {
	alive := 0
	for _, h := range results {
		if h.Alive {
			alive++
			if deadOnly {
				continue
			}
			fmt.Fprintf(w, "  ok    %-40s %s\n", h.Endpoint, h.Latency.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(w, "  dead  %s\n", h.Endpoint)
	}
	fmt.Fprintf(w, "%d/%d proxies alive\n", alive, len(results))
}
