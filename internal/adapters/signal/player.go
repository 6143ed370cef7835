package signal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
)

var (
	ErrPlayTimeout = errors.New("play timeout")
	ErrPlayFailed  = errors.New("play failed")
)

// RemotePlayer plays clips in the browser and waits for its ack.
type RemotePlayer struct {
	out     emitter
	timeout time.Duration

	mu      sync.Mutex
	pending map[domain.MessageID]chan error
}

var _ domain.AudioPlayer = (*RemotePlayer)(nil)

func newRemotePlayer(out emitter, timeout time.Duration) *RemotePlayer {
	return &RemotePlayer{
		out:     out,
		timeout: timeout,
		pending: make(map[domain.MessageID]chan error),
	}
}

func (p *RemotePlayer) Play(ctx context.Context, clip domain.Clip) error {
	done := make(chan error, 1)
	p.mu.Lock()
	p.pending[clip.MessageID] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, clip.MessageID)
		p.mu.Unlock()
	}()

	fields := obj{
		"messageId": clip.MessageID,
		"text":      clip.Text,
		"language":  clip.Language,
	}
	if len(clip.Audio) > 0 {
		fields["format"] = clip.Format
		fields["audio"] = base64.StdEncoding.EncodeToString(clip.Audio)
	}
	if err := p.out.emit("play", fields); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrPlayTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ack resolves a pending Play. Unknown ids are ignored.
func (p *RemotePlayer) ack(id domain.MessageID, err error) bool {
	p.mu.Lock()
	done, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case done <- err:
	default:
	}
	return true
}
