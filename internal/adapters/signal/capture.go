package signal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/syncroom/internal/domain"
)

type emitter interface {
	emit(typ string, fields obj) error
}

// RemoteCapture drives the recognizer running in the browser. At most one
// capture is live per connection; results for any other capture id are
// dropped.
type RemoteCapture struct {
	out emitter

	mu     sync.Mutex
	seq    uint64
	active *remoteCaptureSession
}

var _ domain.SpeechCapture = (*RemoteCapture)(nil)

type remoteCaptureSession struct {
	rc      *RemoteCapture
	id      string
	cb      domain.RecognitionCallbacks
	stopped atomic.Bool
}

func (rc *RemoteCapture) StartContinuousRecognition(_ context.Context, lang string, cb domain.RecognitionCallbacks) (domain.CaptureSession, error) {
	rc.mu.Lock()
	rc.seq++
	s := &remoteCaptureSession{rc: rc, id: fmt.Sprintf("c%d", rc.seq), cb: cb}
	prev := rc.active
	rc.active = s
	rc.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	if err := rc.out.emit("capture_start", obj{"captureId": s.id, "language": lang}); err != nil {
		rc.forget(s)
		return nil, fmt.Errorf("capture start: %w", err)
	}
	return s, nil
}

func (s *remoteCaptureSession) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.rc.forget(s)
	_ = s.rc.out.emit("capture_stop", obj{"captureId": s.id})
	return nil
}

func (rc *RemoteCapture) forget(s *remoteCaptureSession) {
	rc.mu.Lock()
	if rc.active == s {
		rc.active = nil
	}
	rc.mu.Unlock()
}

// deliver hands a browser result to the live capture. An empty id matches
// the live capture.
func (rc *RemoteCapture) deliver(id string, fn func(domain.RecognitionCallbacks)) bool {
	rc.mu.Lock()
	s := rc.active
	rc.mu.Unlock()
	if s == nil || (id != "" && id != s.id) {
		return false
	}
	fn(s.cb)
	return true
}
