package mqtt

import (
	"context"
	"encoding/json"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/logger"
)

// Channel is the delivery-gap label of this transport.
const Channel = "mqtt"

// Notifier publishes every event to <prefix>/users/<id>/events for each
// recipient. Failed publishes are counted as gaps and not retried beyond
// the client's own attempts.
type Notifier struct {
	cli   *Client
	onGap events.GapFunc
	log   logger.Logger
}

// NewNotifier creates a Notifier. onGap may be nil.
func NewNotifier(cli *Client, onGap events.GapFunc, log logger.Logger) *Notifier {
	if onGap == nil {
		onGap = func(string, string, events.Event) {}
	}
	return &Notifier{cli: cli, onGap: onGap, log: log}
}

// UserTopic returns the event topic of user.
func (n *Notifier) UserTopic(user string) string {
	return n.cli.Topic("users", user, "events")
}

// Deliver publishes ev to each recipient's topic.
func (n *Notifier) Deliver(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Errorf("marshal %s event %s: %v", ev.Kind, ev.ID, err)
		return
	}
	for _, user := range ev.Recipients {
		if err := n.cli.Publish(n.UserTopic(user), "events", payload); err != nil {
			n.log.Errorf("push %s %s to %s: %v", ev.Kind, ev.ID, user, err)
			n.onGap(Channel, user, ev)
		}
	}
}

// Run delivers events from ch until ctx is done or ch is closed.
func (n *Notifier) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n.Deliver(ev)
		}
	}
}
