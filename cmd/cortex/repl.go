package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/cortex/internal/lineworld"
)

var replCommands = []string{"run", "plan", "state", "goal", "reset", "credits", "predictions", "transitions", "help", "quit"}

const replHelp = `commands:
  run               act until the goal is reached or the step budget is spent
  plan [depth]      show the action the executive would take now
  state             show position and goal
  goal <n>          set the goal
  reset <n>         move to position n
  credits           reward credited to each move
  predictions       realized prediction errors
  transitions       realized transitions
  quit              leave
`

func newReplCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Drive the executive interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			line.SetCompleter(func(s string) []string {
				var out []string
				for _, c := range replCommands {
					if strings.HasPrefix(c, s) {
						out = append(out, c)
					}
				}
				return out
			})

			history := filepath.Join(os.TempDir(), ".cortex_history")
			if f, err := os.Open(history); err == nil { // #nosec G304
				_, _ = line.ReadHistory(f)
				_ = f.Close()
			}
			defer func() {
				if f, err := os.Create(history); err == nil { // #nosec G304
					_, _ = line.WriteHistory(f)
					_ = f.Close()
				}
			}()

			out := cmd.OutOrStdout()
			fmt.Fprint(out, replHelp)
			for {
				input, err := line.Prompt("cortex> ")
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if strings.TrimSpace(input) == "" {
					continue
				}
				line.AppendHistory(input)

				quit, err := a.eval(ctx, out, input)
				if err != nil {
					fmt.Fprintln(out, "error:", err)
				}
				if quit {
					return nil
				}
			}
		},
	}
}

// eval runs one REPL command.
func (a *app) eval(ctx context.Context, out io.Writer, input string) (quit bool, err error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func() (int, error) {
		if len(fields) < 2 {
			return 0, fmt.Errorf("%s needs a number", fields[0])
		}
		return strconv.Atoi(fields[1])
	}

	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprint(out, replHelp)
	case "state":
		s := a.env.State()
		fmt.Fprintf(out, "position %d, goal %d, loss %.0f\n", s.Position, s.Goal, s.Loss())
	case "goal":
		n, err := arg()
		if err != nil {
			return false, err
		}
		a.env.SetGoal(n)
	case "reset":
		n, err := arg()
		if err != nil {
			return false, err
		}
		a.env.Reset(lineworld.State{Position: n, Goal: a.env.State().Goal})
	case "run":
		a.env.Reset(a.env.State())
		err := a.episode(ctx, func(s step) {
			fmt.Fprintf(out, "%4d -> %-5s  predicted %.0f  realized %.0f\n", s.From.Position, s.Move, s.Predicted, s.To.Loss())
		})
		if err != nil {
			return false, err
		}
	case "plan":
		depth := a.exec.Lookahead()
		if len(fields) > 1 {
			if depth, err = arg(); err != nil {
				return false, err
			}
		}
		action, err := a.exec.Forward(ctx, a.env.Percept(a.exec), depth)
		if err != nil {
			return false, err
		}
		var move string
		if err := action.UnmarshalPayload(&move); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s (lookahead %d)\n", move, depth)
	case "credits":
		credits := a.models.Action.Credits()
		keys := make([]string, 0, len(credits))
		for k := range credits {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "%-8s %g\n", k, credits[k])
		}
	case "predictions":
		predictions, err := a.models.Cost.Landscape().Predictions()
		if err != nil {
			return false, err
		}
		for _, p := range predictions {
			if p.Realized {
				fmt.Fprintf(out, "%s  predicted %g  actual %g  error %g\n", p.Action[:8], p.Loss, p.Actual, p.Error)
			}
		}
	case "transitions":
		for _, tr := range a.models.World.Transitions() {
			var from, to lineworld.State
			if err := errors.Join(tr.From.UnmarshalPayload(&from), tr.To.UnmarshalPayload(&to)); err != nil {
				return false, err
			}
			fmt.Fprintf(out, "%4d -> %-7s -> %4d  reward %g\n", from.Position, tr.Action.Payload(), to.Position, tr.Reward)
		}
	default:
		return false, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return false, nil
}
