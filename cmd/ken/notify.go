package main

import (
	"context"
	"fmt"

	"github.com/executive-assistant/ken/internal/channel"
	"github.com/executive-assistant/ken/internal/domain"
)

// channelRegistry is the concrete adapter cmd/ken wires as both
// flow.Notifier (C8 -> C6) and scheduler.ReminderSink (C7 -> C6),
// satisfying both narrow interfaces against the same set of live
// channel.Channel instances without either package importing the other.
type channelRegistry struct {
	byName map[string]channel.Channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{byName: make(map[string]channel.Channel)}
}

func (c *channelRegistry) register(ch channel.Channel) {
	c.byName[ch.Name()] = ch
}

// Notify implements flow.Notifier: send content to conversationID on the
// named channel.
func (c *channelRegistry) Notify(ctx context.Context, channelName, conversationID, content string) error {
	ch, ok := c.byName[channelName]
	if !ok {
		return fmt.Errorf("notify: unknown channel %q", channelName)
	}
	return ch.Send(ctx, conversationID, content)
}

// DeliverReminder implements scheduler.ReminderSink. Reminder rows don't
// carry the channel they were created from (spec.md §3's schema has no
// such column), so delivery broadcasts to every registered channel and
// treats the first channel that accepts conversationID without error as
// delivered; channels that don't recognize the ID are expected to no-op
// rather than error (HTTPChannel.Send does exactly this when no sink is
// registered). Recorded as an Open Question decision in DESIGN.md.
func (c *channelRegistry) DeliverReminder(ctx context.Context, r domain.Reminder) error {
	if len(c.byName) == 0 {
		return fmt.Errorf("deliver reminder %s: no channels registered", r.ID)
	}
	content := "Reminder: " + r.Message
	var lastErr error
	delivered := false
	for _, ch := range c.byName {
		if err := ch.Send(ctx, r.ThreadID, content); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered && lastErr != nil {
		return fmt.Errorf("deliver reminder %s: %w", r.ID, lastErr)
	}
	return nil
}
