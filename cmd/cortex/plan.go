package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPlanCmd(root *rootOptions) *cobra.Command {
	var start, goal, lookahead int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run one line world episode and print the trajectory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("start") {
				cfg.World.Start = start
			}
			if flags.Changed("goal") {
				cfg.World.Goal = goal
			}
			if flags.Changed("lookahead") {
				cfg.Executive.Lookahead = lookahead
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "start %d, goal %d, lookahead %d\n", cfg.World.Start, cfg.World.Goal, a.exec.Lookahead())
			n := 0
			err = a.episode(ctx, func(s step) {
				n++
				fmt.Fprintf(out, "%3d  %4d -> %-5s  predicted %.0f  realized %.0f\n",
					n, s.From.Position, s.Move, s.Predicted, s.To.Loss())
			})
			if err != nil {
				return err
			}

			final := a.env.State()
			if final.Done() {
				fmt.Fprintf(out, "goal reached in %d steps\n", n)
			} else {
				fmt.Fprintf(out, "stopped at %d after %d steps\n", final.Position, n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "starting position (overrides world.start)")
	cmd.Flags().IntVar(&goal, "goal", 0, "goal position (overrides world.goal)")
	cmd.Flags().IntVar(&lookahead, "lookahead", 0, "planning depth (overrides executive.lookahead)")
	return cmd
}
