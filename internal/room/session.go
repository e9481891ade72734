package room

import "time"

// State is the negotiation state of a Session. Transitions only move forward:
// Offered -> Answered -> Closed.
type State int

const (
	StateOffered State = iota
	StateAnswered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOffered:
		return "offered"
	case StateAnswered:
		return "answered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a session ended. It selects the notification the
// counterpart receives.
type CloseReason string

const (
	ReasonHangup    CloseReason = "hangup"
	ReasonRejected  CloseReason = "rejected"
	ReasonLeft      CloseReason = "left"
	ReasonCancelled CloseReason = "cancelled"
)

// SessionKey identifies a session within its room. In pairwise mode Callee is
// always empty, so a caller has at most one outstanding session per room. In
// multiparty mode the key is the directed (caller, callee) edge.
type SessionKey struct {
	Caller string
	Callee string
}

// Session is one call attempt. All access happens under the owning room's
// lock; see Store.With.
type Session struct {
	key    SessionKey
	roomID string
	seq    uint64

	caller     string
	callee     string
	callerName string

	offer  []byte
	answer []byte
	state  State

	// Candidates received before the answer existed, one queue per direction.
	fromCaller [][]byte
	fromCallee [][]byte

	createdAt time.Time
}

func (s *Session) Key() SessionKey { return s.key }
func (s *Session) RoomID() string { return s.roomID }
func (s *Session) Caller() string { return s.caller }
func (s *Session) Callee() string { return s.callee }
func (s *Session) CallerName() string { return s.callerName }
func (s *Session) Offer() []byte { return s.offer }
func (s *Session) Answer() []byte { return s.answer }
func (s *Session) State() State { return s.state }

// Involves reports whether connID is the caller or the callee.
func (s *Session) Involves(connID string) bool {
	return connID != "" && (s.caller == connID || s.callee == connID)
}

// Counterpart returns the other participant, or "" if connID is not part of
// the session or the callee is not known yet.
func (s *Session) Counterpart(connID string) string {
	if connID == "" {
		return ""
	}
	switch connID {
	case s.caller:
		return s.callee
	case s.callee:
		return s.caller
	default:
		return ""
	}
}

// ApplyAnswer records the callee's answer. It succeeds at most once.
//
// If the callee was unknown when the offer was created, calleeID becomes the
// callee; otherwise calleeID must match the member the offer was sent to.
func (s *Session) ApplyAnswer(calleeID string, answer []byte) error {
	switch s.state {
	case StateClosed:
		return ErrSessionNotFound
	case StateAnswered:
		return ErrAlreadyAnswered
	}
	if calleeID == "" || calleeID == s.caller {
		return ErrCalleeMismatch
	}
	if s.callee != "" && s.callee != calleeID {
		return ErrCalleeMismatch
	}

	s.callee = calleeID
	s.answer = answer
	s.state = StateAnswered
	return nil
}

// EnqueueCandidate records a candidate sent by from and returns the
// participant it must be forwarded to. Candidates are queued only while the
// session is still waiting for its answer; forwarding happens regardless and
// is the caller's job. to is "" when the callee is not known yet.
func (s *Session) EnqueueCandidate(from string, candidate []byte) (to string, err error) {
	if s.state == StateClosed {
		return "", ErrSessionNotFound
	}

	switch {
	case from != "" && from == s.caller:
		if s.state == StateOffered {
			s.fromCaller = append(s.fromCaller, candidate)
		}
		return s.callee, nil
	case from != "" && from == s.callee:
		if s.state == StateOffered {
			s.fromCallee = append(s.fromCallee, candidate)
		}
		return s.caller, nil
	default:
		return "", ErrNotParticipant
	}
}

// CallerCandidates returns, in arrival order, the candidates the caller sent
// before the answer existed.
func (s *Session) CallerCandidates() [][]byte {
	out := make([][]byte, len(s.fromCaller))
	copy(out, s.fromCaller)
	return out
}

// CalleeCandidates returns, in arrival order, the candidates the callee sent
// before the answer existed.
func (s *Session) CalleeCandidates() [][]byte {
	out := make([][]byte, len(s.fromCallee))
	copy(out, s.fromCallee)
	return out
}
