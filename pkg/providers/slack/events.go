package slack

import (
	"context"
	"time"

	"Murmur/pkg/core"
)

// pollUpdates periodically fetches messages newer than each conversation's watermark
// and emits them as message.receive events.
func (p *SlackProvider) pollUpdates(stop chan struct{}, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce(stop)
		case <-stop:
			p.log("SlackProvider.pollUpdates: stopping polling goroutine\n")
			return
		}
	}
}

func (p *SlackProvider) pollOnce(stop chan struct{}) {
	client, err := p.api()
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for convID, ts := range p.snapshotWatermarks() {
		msgs, _, err := p.fetchAfter(ctx, client, convID, ts, 200)
		if err != nil {
			p.logger.Warnf("SlackProvider.pollOnce: failed to poll %s: %v", convID, err)
			continue
		}
		for _, msg := range msgs {
			p.emit(core.MessageReceiveEvent{Message: msg})
		}
		if len(msgs) > 0 {
			p.advanceWatermark(convID, msgs[len(msgs)-1].ID)
			p.log("SlackProvider.pollOnce: %d new messages in %s\n", len(msgs), convID)
		}
	}
}

// advanceWatermark records ts as the newest seen message of a conversation if it is
// newer than the current one.
func (p *SlackProvider) advanceWatermark(conversationID, ts string) {
	p.watermarksMu.Lock()
	defer p.watermarksMu.Unlock()
	if cur, ok := p.watermarks[conversationID]; ok && !parseSlackTimestamp(ts).After(parseSlackTimestamp(cur)) {
		return
	}
	p.watermarks[conversationID] = ts
}

func (p *SlackProvider) snapshotWatermarks() map[string]string {
	p.watermarksMu.Lock()
	defer p.watermarksMu.Unlock()
	out := make(map[string]string, len(p.watermarks))
	for k, v := range p.watermarks {
		out[k] = v
	}
	return out
}
