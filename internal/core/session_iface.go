package core

type SessionID string

// MemberSession is a running room session as seen by transport adapters.
type MemberSession interface {
	Press()
	Stop()
	MicState() MicState
	Done() <-chan struct{}
}

var _ MemberSession = (*Coordinator)(nil)
