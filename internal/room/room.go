package room

import (
	"sort"
	"sync"
	"time"
)

// Room is a named rendezvous point. Its methods may only be called from
// within Store.With (or from Store internals holding mu).
type Room struct {
	store *Store

	mu        sync.Mutex
	id        string
	members   []string
	sessions  map[SessionKey]*Session
	deleted   bool
	createdAt time.Time
}

func (r *Room) ID() string { return r.id }

func (r *Room) Mode() Mode { return r.store.mode }

// Members returns a copy of the member ids in join order.
func (r *Room) Members() []string {
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Room) IsMember(connID string) bool {
	return r.indexOf(connID) >= 0
}

// OtherMember returns the unique member other than connID. It reports false
// unless the room has exactly two members and connID is one of them.
func (r *Room) OtherMember(connID string) (string, bool) {
	if len(r.members) != 2 || !r.IsMember(connID) {
		return "", false
	}
	if r.members[0] == connID {
		return r.members[1], true
	}
	return r.members[0], true
}

// CreateFromOffer stores a new session for caller's offer.
//
// In pairwise mode the callee is the other member, or unknown if the caller
// is alone; target may be empty and, if set, must name the other member. In
// multiparty mode target is required and must be another member. A second
// offer for the same session key is rejected with ErrDuplicateOffer; the
// stored offer is never overwritten.
func (r *Room) CreateFromOffer(caller, target string, offer []byte, callerName string) (*Session, error) {
	if !r.IsMember(caller) {
		return nil, ErrNotMember
	}

	var key SessionKey
	var callee string
	switch r.store.mode {
	case ModeMultiparty:
		if target == "" || target == caller || !r.IsMember(target) {
			return nil, ErrUnknownTarget
		}
		key = SessionKey{Caller: caller, Callee: target}
		callee = target
	default:
		other, _ := r.OtherMember(caller)
		if target != "" && target != other {
			return nil, ErrUnknownTarget
		}
		key = SessionKey{Caller: caller}
		callee = other
	}

	if _, ok := r.sessions[key]; ok {
		return nil, ErrDuplicateOffer
	}

	sess := &Session{
		key:        key,
		roomID:     r.id,
		seq:        r.store.nextSeq(),
		caller:     caller,
		callee:     callee,
		callerName: callerName,
		offer:      offer,
		state:      StateOffered,
		createdAt:  r.store.now(),
	}
	r.sessions[key] = sess
	return sess, nil
}

// Answer locates the session answered by callee and applies the answer.
// callerID selects the session; it is required in multiparty mode and
// optional in pairwise mode, where the other member's offer is implied.
func (r *Room) Answer(callee, callerID string, answer []byte) (*Session, error) {
	if !r.IsMember(callee) {
		return nil, ErrNotMember
	}
	sess := r.sessionForAnswer(callee, callerID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if err := sess.ApplyAnswer(callee, answer); err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *Room) sessionForAnswer(callee, callerID string) *Session {
	if r.store.mode == ModeMultiparty {
		if callerID == "" {
			return nil
		}
		return r.sessions[SessionKey{Caller: callerID, Callee: callee}]
	}

	if callerID != "" {
		if callerID == callee {
			return nil
		}
		return r.sessions[SessionKey{Caller: callerID}]
	}
	for _, sess := range r.sortedSessions() {
		if sess.caller != callee && (sess.callee == callee || sess.callee == "") {
			return sess
		}
	}
	return nil
}

// SessionBetween finds the session linking from and peer, preferring the one
// where from is the caller. In pairwise mode a session whose callee is still
// unknown matches when from is its caller.
func (r *Room) SessionBetween(from, peer string) *Session {
	if r.store.mode == ModeMultiparty {
		if sess, ok := r.sessions[SessionKey{Caller: from, Callee: peer}]; ok {
			return sess
		}
		if sess, ok := r.sessions[SessionKey{Caller: peer, Callee: from}]; ok {
			return sess
		}
		return nil
	}

	if sess, ok := r.sessions[SessionKey{Caller: from}]; ok && (sess.callee == peer || sess.callee == "") {
		return sess
	}
	if peer == "" {
		return nil
	}
	if sess, ok := r.sessions[SessionKey{Caller: peer}]; ok && sess.callee == from {
		return sess
	}
	return nil
}

// SessionsInvolving returns the sessions where connID is caller or callee,
// oldest first.
func (r *Room) SessionsInvolving(connID string) []*Session {
	var out []*Session
	for _, sess := range r.sortedSessions() {
		if sess.Involves(connID) {
			out = append(out, sess)
		}
	}
	return out
}

// PendingFor returns the unanswered sessions where connID is the callee,
// oldest first.
func (r *Room) PendingFor(connID string) []*Session {
	var out []*Session
	for _, sess := range r.sortedSessions() {
		if sess.state == StateOffered && sess.callee == connID && connID != "" {
			out = append(out, sess)
		}
	}
	return out
}

// Close transitions sess to StateClosed, removes it from the room and
// notifies the store's Notifier. Closing an already closed session is a
// no-op.
func (r *Room) Close(sess *Session, closedBy string, reason CloseReason) {
	r.closeLocked(sess, closedBy, reason)
}

func (r *Room) closeLocked(sess *Session, closedBy string, reason CloseReason) {
	if sess == nil || sess.state == StateClosed {
		return
	}
	if cur, ok := r.sessions[sess.key]; ok && cur == sess {
		delete(r.sessions, sess.key)
	}
	sess.state = StateClosed
	r.store.log.Debug("call session closed",
		"room_id", r.id,
		"caller", sess.caller,
		"callee", sess.callee,
		"reason", string(reason),
		"age_ms", r.store.now().Sub(sess.createdAt).Milliseconds(),
	)
	r.store.notify.SessionClosed(r.id, sess, closedBy, reason)
}

// tryJoin reports ok=false when r was deleted before the lock was acquired.
func (r *Room) tryJoin(connID string) (res JoinResult, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return JoinResult{}, false, nil
	}
	res, err = r.joinLocked(connID)
	if err != nil && len(r.members) == 0 {
		r.deleteLocked()
	}
	return res, true, err
}

func (r *Room) joinLocked(connID string) (JoinResult, error) {
	res := JoinResult{RoomID: r.id}
	if r.IsMember(connID) {
		return res, ErrAlreadyMember
	}
	if c := r.store.capacity(); c > 0 && len(r.members) >= c {
		return res, ErrRoomFull
	}

	res.Existing = r.Members()
	r.members = append(r.members, connID)

	n := r.store.notify
	n.Joined(r.id, connID, res.Existing)
	for _, m := range res.Existing {
		n.MemberJoined(r.id, m, connID)
	}

	if r.store.mode == ModePairwise {
		for _, sess := range r.sortedSessions() {
			if sess.state == StateOffered && sess.callee == "" && sess.caller != connID {
				sess.callee = connID
				n.SessionBound(r.id, sess)
			}
		}
	}
	return res, nil
}

func (r *Room) leaveLocked(connID string) error {
	idx := r.indexOf(connID)
	if idx < 0 {
		return ErrNotMember
	}
	r.members = append(r.members[:idx:idx], r.members[idx+1:]...)

	for _, sess := range r.SessionsInvolving(connID) {
		r.closeLocked(sess, connID, ReasonLeft)
	}

	for _, m := range r.members {
		r.store.notify.MemberLeft(r.id, m, connID)
	}

	if len(r.members) == 0 {
		r.deleteLocked()
	}
	return nil
}

func (r *Room) deleteLocked() {
	r.deleted = true
	r.store.remove(r)
	r.store.log.Info("room deleted", "room_id", r.id, "age_ms", r.store.now().Sub(r.createdAt).Milliseconds())
}

func (r *Room) indexOf(connID string) int {
	if connID == "" {
		return -1
	}
	for i, m := range r.members {
		if m == connID {
			return i
		}
	}
	return -1
}

func (r *Room) sortedSessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
