package core

import (
	"strings"

	"github.com/dkeye/syncroom/internal/domain"
)

// MicState is the local push-to-talk state.
type MicState int

const (
	MicIdle MicState = iota
	MicListening
	MicProcessing
	MicLocked
	MicCoolingDown
)

func (s MicState) String() string {
	switch s {
	case MicIdle:
		return "idle"
	case MicListening:
		return "listening"
	case MicProcessing:
		return "processing"
	case MicLocked:
		return "locked"
	case MicCoolingDown:
		return "cooling_down"
	}
	return "unknown"
}

type EventKind int

const (
	EvPress EventKind = iota
	EvStop
	EvAcquired
	EvAcquireDenied
	EvRecognized
	EvNoMatch
	EvCanceled
	EvSessionStopped
	EvAppended
	EvAppendFailed
	EvCooldownElapsed
	EvFloorChanged
	EvMuteChanged
	EvEmceeChanged
)

// Event drives the floor machine. Holder is set for EvFloorChanged and
// EvAcquireDenied, Text for EvRecognized, Flag for the *Changed toggles.
type Event struct {
	Kind   EventKind
	Text   string
	Holder domain.UserID
	Flag   bool

	// gen ties capture callbacks to the capture session that produced them.
	gen uint64
}

func (e Event) fromCapture() bool {
	switch e.Kind {
	case EvRecognized, EvNoMatch, EvCanceled, EvSessionStopped:
		return true
	}
	return false
}

type EffectKind int

const (
	EffAcquireFloor EffectKind = iota
	EffStartCapture
	EffStopCapture
	EffAppendMessage
	EffReleaseFloor
	EffStartCooldown
)

type Effect struct {
	Kind  EffectKind
	Force bool
	Text  string
}

// Floor is the pure push-to-talk machine of one client. Holder mirrors the
// last observed activeSpeakerUid.
type Floor struct {
	State  MicState
	Self   domain.UserID
	Holder domain.UserID
	Emcee  bool
	Muted  bool
}

type Transition struct {
	Next     Floor
	Effects  []Effect
	Rejected error
}

func (f Floor) heldByOther() bool {
	return f.Holder != "" && f.Holder != f.Self
}

// releasePath is the only way out of listening and processing.
func releasePath(t *Transition) {
	t.Next.State = MicCoolingDown
	t.Effects = append(t.Effects,
		Effect{Kind: EffReleaseFloor},
		Effect{Kind: EffStopCapture},
		Effect{Kind: EffStartCooldown},
	)
}

func (f Floor) Apply(ev Event) Transition {
	t := Transition{Next: f}
	n := &t.Next

	switch ev.Kind {
	case EvPress:
		if f.State != MicIdle && f.State != MicLocked {
			t.Rejected = domain.ErrMicBusy
			return t
		}
		if f.Muted {
			t.Rejected = domain.ErrMuted
			return t
		}
		if f.heldByOther() && !f.Emcee {
			n.State = MicLocked
			t.Rejected = domain.ErrFloorTaken
			return t
		}
		t.Effects = append(t.Effects, Effect{Kind: EffAcquireFloor, Force: f.heldByOther()})

	case EvAcquired:
		if f.State == MicIdle || f.State == MicLocked {
			n.Holder = f.Self
			n.State = MicListening
			t.Effects = append(t.Effects, Effect{Kind: EffStartCapture})
		}

	case EvAcquireDenied:
		if f.State != MicIdle && f.State != MicLocked {
			return t
		}
		n.Holder = ev.Holder
		if n.heldByOther() {
			n.State = MicLocked
		} else {
			n.State = MicIdle
		}
		t.Rejected = domain.ErrFloorTaken

	case EvRecognized:
		if f.State != MicListening {
			return t
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			releasePath(&t)
			return t
		}
		n.State = MicProcessing
		t.Effects = append(t.Effects, Effect{Kind: EffAppendMessage, Text: text})

	case EvStop, EvNoMatch, EvCanceled, EvSessionStopped:
		if f.State == MicListening {
			releasePath(&t)
		}

	case EvAppended, EvAppendFailed:
		if f.State == MicProcessing {
			releasePath(&t)
		}

	case EvCooldownElapsed:
		if f.State != MicCoolingDown {
			return t
		}
		if f.heldByOther() {
			n.State = MicLocked
		} else {
			n.State = MicIdle
		}

	case EvFloorChanged:
		n.Holder = ev.Holder
		switch f.State {
		case MicIdle, MicLocked:
			if n.heldByOther() {
				n.State = MicLocked
				return t
			}
			n.State = MicIdle
			if n.Holder == n.Self {
				// stale token left by a crashed or unloaded session
				t.Effects = append(t.Effects, Effect{Kind: EffReleaseFloor})
			}
		case MicListening:
			if n.heldByOther() {
				// overridden by an emcee; the partial utterance is dropped
				n.State = MicLocked
				t.Effects = append(t.Effects, Effect{Kind: EffStopCapture})
			}
		}

	case EvMuteChanged:
		n.Muted = ev.Flag
		if n.Muted && f.State == MicListening {
			releasePath(&t)
		}

	case EvEmceeChanged:
		n.Emcee = ev.Flag
	}
	return t
}
