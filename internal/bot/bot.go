package bot

import (
	"context"
	"log/slog"

	"github.com/715209/belabot/internal/belabox"
)

// Bot folds relay events into the state cache and drives the monitor.
// It also finishes a pending reboot: once the encoder reports status
// again, the stream is re-issued from the cached settings.
type Bot struct {
	state   *State
	control Controller
	chat    Sender
	monitor *Monitor
	logger  *slog.Logger
}

// New builds the event loop around an existing state cache and monitor.
func New(state *State, control Controller, chat Sender, monitor *Monitor, logger *slog.Logger) *Bot {
	return &Bot{
		state:   state,
		control: control,
		chat:    chat,
		monitor: monitor,
		logger:  logger,
	}
}

// Run consumes relay events until the channel closes or ctx is
// cancelled. The channel is typically a session subscription.
func (b *Bot) Run(ctx context.Context, events <-chan belabox.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg belabox.Message) {
	res := b.state.Apply(msg)

	if res.Start != nil {
		if err := b.control.Start(ctx, *res.Start); err != nil {
			b.logger.Error("restart stream after reboot", "error", err)
		} else if err := b.chat.Send("BB: Reboot successful, starting the stream"); err != nil {
			b.logger.Error("send chat message", "error", err)
		}
	}

	b.monitor.Observe(msg, res)
}
