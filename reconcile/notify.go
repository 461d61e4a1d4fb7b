package reconcile

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/guildsync/cache"
)

// RunChannel carries JSON-encoded run summaries.
const RunChannel = "guildsync:runs"

// PubSubNotifier publishes run summaries on RunChannel.
type PubSubNotifier struct {
	ps cache.PubSub
}

var _ Notifier = (*PubSubNotifier)(nil)

func NewPubSubNotifier(ps cache.PubSub) *PubSubNotifier {
	return &PubSubNotifier{ps: ps}
}

func (n *PubSubNotifier) NotifyRun(ctx context.Context, s *Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return n.ps.Publish(ctx, RunChannel, string(b))
}
