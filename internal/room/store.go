// Package room holds the per-room membership and call negotiation state of the
// signaling service.
//
// A Store owns every Room and every Session. All reads and writes of a room
// and its sessions happen under that room's mutex, so different rooms proceed
// in parallel while events for one room are serialized. A room exists in the
// store if and only if it has at least one member: it is created by Join and
// deleted by the Leave that empties it.
package room

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

type Mode string

const (
	// ModePairwise caps rooms at two members with one outstanding offer per
	// caller.
	ModePairwise Mode = "pairwise"
	// ModeMultiparty allows any number of members (subject to MaxMembers) and
	// keys sessions by directed (caller, callee) pair.
	ModeMultiparty Mode = "multiparty"
)

const pairwiseCapacity = 2

// ParseMode parses a room mode name.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModePairwise), "pair", "1:1":
		return ModePairwise, nil
	case string(ModeMultiparty), "multi", "mesh":
		return ModeMultiparty, nil
	default:
		return "", fmt.Errorf("invalid room mode %q (expected pairwise or multiparty)", raw)
	}
}

// NormalizeID lower-cases and trims a room identifier so that "ABC" and "abc"
// address the same room.
func NormalizeID(id string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(id))
	if n == "" {
		return "", ErrInvalidRoomID
	}
	return n, nil
}

// Notifier receives membership and session events. Methods are invoked while
// the room lock is held, so events for one room are observed in the order the
// state changed. Implementations must not block and must not call back into
// the Store for the same room.
type Notifier interface {
	// Joined is sent to the joining member first, with the members that were
	// already present in join order.
	Joined(roomID, joiner string, existing []string)
	MemberJoined(roomID, to, joined string)
	MemberLeft(roomID, to, left string)
	// SessionBound fires when a pairwise offer created while the caller was
	// alone gets its callee because a second member joined.
	SessionBound(roomID string, s *Session)
	// SessionClosed fires after s transitions to StateClosed. closedBy is the
	// member whose action closed it ("" when the store itself closes it).
	SessionClosed(roomID string, s *Session, closedBy string, reason CloseReason)
}

type nopNotifier struct{}

func (nopNotifier) Joined(string, string, []string) {}
func (nopNotifier) MemberJoined(string, string, string) {}
func (nopNotifier) MemberLeft(string, string, string) {}
func (nopNotifier) SessionBound(string, *Session) {}
func (nopNotifier) SessionClosed(string, *Session, string, CloseReason) {}

type Options struct {
	Mode Mode
	// MaxMembers caps multiparty rooms. 0 means unlimited. Pairwise rooms are
	// always capped at two.
	MaxMembers int
	Notifier   Notifier
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store maps room ids to rooms. Construct one per coordinator.
type Store struct {
	mode       Mode
	maxMembers int
	notify     Notifier
	log        *slog.Logger
	now        func() time.Time

	// mu guards rooms only. It is never held while acquiring a room lock; a
	// room lock may be held while acquiring mu (room deletion).
	mu    sync.Mutex
	rooms map[string]*Room
	seq   uint64
}

func NewStore(opts Options) *Store {
	if opts.Mode == "" {
		opts.Mode = ModePairwise
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		mode:       opts.Mode,
		maxMembers: opts.MaxMembers,
		notify:     opts.Notifier,
		log:        opts.Logger,
		now:        opts.Now,
		rooms:      make(map[string]*Room),
	}
}

func (s *Store) Mode() Mode { return s.mode }

func (s *Store) capacity() int {
	if s.mode == ModePairwise {
		return pairwiseCapacity
	}
	if s.maxMembers > 0 {
		return s.maxMembers
	}
	return 0
}

// JoinResult describes an accepted join.
type JoinResult struct {
	RoomID string
	// Existing lists the members that were present before the join, in join
	// order.
	Existing []string
	// Created is true when the join created the room.
	Created bool
}

// Join appends connID to the room's members, creating the room if needed.
// It fails with ErrRoomFull when the room is at capacity, leaving membership
// untouched.
func (s *Store) Join(roomID, connID string) (JoinResult, error) {
	id, err := NormalizeID(roomID)
	if err != nil {
		return JoinResult{}, err
	}
	if connID == "" {
		return JoinResult{}, ErrNotMember
	}

	for {
		r, created := s.getOrCreate(id)
		res, ok, err := r.tryJoin(connID)
		if !ok {
			// Lost a race with the Leave that emptied this room; the store no
			// longer references it, so the next getOrCreate makes a new one.
			continue
		}
		res.Created = created && err == nil
		if res.Created {
			s.log.Info("room created", "room_id", id, "mode", string(s.mode))
		}
		return res, err
	}
}

// Leave removes connID from the room, closes every session it takes part in,
// notifies the remaining members, and deletes the room once it is empty.
func (s *Store) Leave(roomID, connID string) error {
	return s.With(roomID, func(r *Room) error {
		return r.leaveLocked(connID)
	})
}

// With runs fn with exclusive access to the room. It never creates a room:
// an unknown or already deleted room yields ErrRoomNotFound. The *Room and
// any *Session obtained from it must not be retained after fn returns.
func (s *Store) With(roomID string, fn func(r *Room) error) error {
	id, err := NormalizeID(roomID)
	if err != nil {
		return err
	}

	r := s.lookup(id)
	if r == nil {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return ErrRoomNotFound
	}
	return fn(r)
}

// Members returns the room's members in join order.
func (s *Store) Members(roomID string) ([]string, error) {
	var out []string
	err := s.With(roomID, func(r *Room) error {
		out = r.Members()
		return nil
	})
	return out, err
}

// OtherMember returns the unique other member of a two-member room.
func (s *Store) OtherMember(roomID, connID string) (string, bool) {
	var other string
	var ok bool
	_ = s.With(roomID, func(r *Room) error {
		other, ok = r.OtherMember(connID)
		return nil
	})
	return other, ok
}

// Exists reports whether the room is currently present.
func (s *Store) Exists(roomID string) bool {
	id, err := NormalizeID(roomID)
	if err != nil {
		return false
	}
	return s.lookup(id) != nil
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Rooms    int
	Members  int
	Sessions int
}

func (s *Store) Stats() Stats {
	var st Stats
	for _, r := range s.snapshot() {
		r.mu.Lock()
		if !r.deleted {
			st.Rooms++
			st.Members += len(r.members)
			st.Sessions += len(r.sessions)
		}
		r.mu.Unlock()
	}
	return st
}

// CloseAll closes every open session with ReasonCancelled and deletes every
// room. It is used on shutdown.
func (s *Store) CloseAll() {
	for _, r := range s.snapshot() {
		r.mu.Lock()
		if !r.deleted {
			for _, sess := range r.sortedSessions() {
				r.closeLocked(sess, "", ReasonCancelled)
			}
			r.members = nil
			r.deleteLocked()
		}
		r.mu.Unlock()
	}
}

func (s *Store) getOrCreate(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[id]; ok {
		return r, false
	}
	r := &Room{
		id:        id,
		store:     s,
		sessions:  make(map[SessionKey]*Session),
		createdAt: s.now(),
	}
	s.rooms[id] = r
	return r, true
}

func (s *Store) lookup(id string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

func (s *Store) remove(r *Room) {
	s.mu.Lock()
	if s.rooms[r.id] == r {
		delete(s.rooms, r.id)
	}
	s.mu.Unlock()
}

func (s *Store) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) snapshot() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].id < rooms[j].id })
	return rooms
}
