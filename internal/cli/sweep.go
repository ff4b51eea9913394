package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evict idle sessions and roll back stalled finalizations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl == 0 {
				ttl = opts.config().SessionTTL
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be > 0")
			}

			eng, closeFn, err := opts.openEngine(cmd)
			if err != nil {
				return fmt.Errorf("open engine: %w", err)
			}
			defer closeFn()

			recovered, err := eng.RecoverStalledFinalizations(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			evicted, err := eng.EvictIdle(cmd.Context(), ttl)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if opts.format == "text" {
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %d session(s) idle longer than %s, recovered %d stalled finalization(s)\n", evicted, ttl, recovered)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"evicted": evicted, "recovered": recovered, "ttl": ttl.String()})
		},
	}
	cmd.Flags().Duration("ttl", 0, "Idle time before eviction (default: $SESSION_TTL or 24h)")
	return cmd
}
