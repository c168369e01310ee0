package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// DispatchResult summarises one batch dispatch.
type DispatchResult struct {
	Sent   int
	Failed int
}

// Dispatcher routes a batch of firing events to delivery channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []FiringEvent) DispatchResult
}

// FanoutDispatcher sends each event over every channel the owning user has
// enabled, skipping channels with no registered notifier. Per-recipient
// failures are logged and counted; they never abort the batch.
type FanoutDispatcher struct {
	notifiers map[string]Notifier
	logger    zerolog.Logger
}

// NewFanoutDispatcher registers notifiers by channel name.
func NewFanoutDispatcher(notifiers []Notifier, logger zerolog.Logger) *FanoutDispatcher {
	byChannel := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		byChannel[n.Channel()] = n
	}
	return &FanoutDispatcher{
		notifiers: byChannel,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch implements Dispatcher.
func (d *FanoutDispatcher) Dispatch(ctx context.Context, events []FiringEvent) DispatchResult {
	var result DispatchResult
	for _, event := range events {
		channels := event.Channels
		if len(channels) == 0 {
			channels = d.registeredChannels()
		}
		for _, channel := range channels {
			notifier, ok := d.notifiers[channel]
			if !ok {
				d.logger.Warn().Str("channel", channel).
					Int64("rule_id", event.RuleID).
					Msg("no notifier registered for channel")
				continue
			}
			if err := notifier.Notify(ctx, event); err != nil {
				result.Failed++
				d.logger.Error().Err(err).
					Str("channel", channel).
					Int64("rule_id", event.RuleID).
					Msg("failed to deliver alert")
				continue
			}
			result.Sent++
		}
	}
	return result
}

func (d *FanoutDispatcher) registeredChannels() []string {
	channels := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		channels = append(channels, name)
	}
	return channels
}

var _ Dispatcher = (*FanoutDispatcher)(nil)
