package agents

import (
	"context"
	"log/slog"

	"github.com/aixgo-dev/cortex/agent"
)

// EventLogger returns a listener that logs every dispatch it observes at
// debug level, or at info level for the kinds the executive loop exchanges.
func EventLogger(logger *slog.Logger) agent.Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev agent.Event) error {
		level := slog.LevelDebug
		switch ev.Intent {
		case agent.KindPercept, agent.KindAction, agent.KindOutcome:
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "dispatch",
			"agent", ev.Agent,
			"intent", ev.Intent,
			"message_id", ev.Message.ID(),
			"depth", ev.Message.Depth(),
			"payload", ev.Message.Payload(),
		)
		return nil
	}
}
