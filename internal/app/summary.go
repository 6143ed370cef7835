package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/syncroom/internal/domain"
)

// TranscriptDigest is the built-in Summarizer: speaker counts plus the
// closing lines of the conversation.
type TranscriptDigest struct {
	Tail int
}

func (d TranscriptDigest) Summarize(_ context.Context, room *domain.Room, msgs []domain.RoomMessage) (string, error) {
	if len(msgs) == 0 {
		return fmt.Sprintf("%s: no messages.", room.Topic), nil
	}
	counts := map[string]int{}
	var order []string
	for _, m := range msgs {
		if counts[m.SpeakerName] == 0 {
			order = append(order, m.SpeakerName)
		}
		counts[m.SpeakerName]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d messages from %d speakers (", room.Topic, len(msgs), len(order))
	for i, name := range order {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %d", name, counts[name])
	}
	b.WriteString(").")

	tail := d.Tail
	if tail <= 0 {
		tail = 3
	}
	if tail > len(msgs) {
		tail = len(msgs)
	}
	for _, m := range msgs[len(msgs)-tail:] {
		fmt.Fprintf(&b, "\n%s: %s", m.SpeakerName, m.Text)
	}
	return b.String(), nil
}
