package room

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

type event struct {
	kind   string
	roomID string
	to     string
	about  string
	reason CloseReason
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) add(e event) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) Joined(roomID, joiner string, existing []string) {
	n.add(event{kind: "joined", roomID: roomID, to: joiner, about: fmt.Sprint(existing)})
}

func (n *recordingNotifier) MemberJoined(roomID, to, joined string) {
	n.add(event{kind: "member_joined", roomID: roomID, to: to, about: joined})
}

func (n *recordingNotifier) MemberLeft(roomID, to, left string) {
	n.add(event{kind: "member_left", roomID: roomID, to: to, about: left})
}

func (n *recordingNotifier) SessionBound(roomID string, s *Session) {
	n.add(event{kind: "bound", roomID: roomID, to: s.Callee(), about: s.Caller()})
}

func (n *recordingNotifier) SessionClosed(roomID string, s *Session, closedBy string, reason CloseReason) {
	n.add(event{kind: "closed", roomID: roomID, to: s.Counterpart(closedBy), about: closedBy, reason: reason})
}

func (n *recordingNotifier) ofKind(kind string) []event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event
	for _, e := range n.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestStore(mode Mode) (*Store, *recordingNotifier) {
	n := &recordingNotifier{}
	return NewStore(Options{Mode: mode, Notifier: n}), n
}

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "abc", want: "abc"},
		{in: "Room1", want: "room1"},
		{in: "  MiXeD  ", want: "mixed"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeID(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidRoomID) {
				t.Fatalf("NormalizeID(%q) err=%v, want %v", tc.in, err, ErrInvalidRoomID)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("NormalizeID(%q)=%q,%v, want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{
		"pairwise":   ModePairwise,
		"PAIRWISE":   ModePairwise,
		"multiparty": ModeMultiparty,
		"mesh":       ModeMultiparty,
	} {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%q,%v, want %q", raw, got, err, want)
		}
	}
	if _, err := ParseMode("broadcast"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestJoin_PairwiseCapsAtTwo(t *testing.T) {
	s, n := newTestStore(ModePairwise)

	if _, err := s.Join("abc", "a"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	res, err := s.Join("ABC", "b")
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if !reflect.DeepEqual(res.Existing, []string{"a"}) {
		t.Fatalf("existing=%v, want [a]", res.Existing)
	}

	if _, err := s.Join("abc", "c"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("join c err=%v, want %v", err, ErrRoomFull)
	}
	members, _ := s.Members("abc")
	if !reflect.DeepEqual(members, []string{"a", "b"}) {
		t.Fatalf("members=%v, want [a b]", members)
	}

	joined := n.ofKind("member_joined")
	if len(joined) != 1 || joined[0].to != "a" || joined[0].about != "b" {
		t.Fatalf("member_joined events=%+v, want one to a about b", joined)
	}
}

func TestJoin_MultipartyCap(t *testing.T) {
	s := NewStore(Options{Mode: ModeMultiparty, MaxMembers: 3})
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Join("r", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	if _, err := s.Join("r", "d"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err=%v, want %v", err, ErrRoomFull)
	}

	unlimited := NewStore(Options{Mode: ModeMultiparty})
	for i := 0; i < 10; i++ {
		if _, err := unlimited.Join("r", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("join m%d: %v", i, err)
		}
	}
}

func TestJoin_AlreadyMember(t *testing.T) {
	s, _ := newTestStore(ModePairwise)
	_, _ = s.Join("abc", "a")
	if _, err := s.Join("abc", "a"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("err=%v, want %v", err, ErrAlreadyMember)
	}
}

func TestJoinLeaveRoundTrip(t *testing.T) {
	s, n := newTestStore(ModePairwise)

	res, err := s.Join("Room1", "a")
	if err != nil || !res.Created {
		t.Fatalf("join: created=%v err=%v", res.Created, err)
	}
	if !s.Exists("room1") {
		t.Fatalf("room missing after join")
	}
	if err := s.Leave("ROOM1", "a"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if s.Exists("room1") {
		t.Fatalf("room present after last member left")
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v, want zero", st)
	}
	if got := n.ofKind("member_left"); len(got) != 0 {
		t.Fatalf("member_left sent to empty room: %+v", got)
	}
}

func TestLeave_Errors(t *testing.T) {
	s, _ := newTestStore(ModePairwise)
	if err := s.Leave("nope", "a"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrRoomNotFound)
	}
	_, _ = s.Join("abc", "a")
	if err := s.Leave("abc", "b"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("err=%v, want %v", err, ErrNotMember)
	}
}

func TestLeave_ClosesSessionsAndNotifies(t *testing.T) {
	s, n := newTestStore(ModePairwise)
	_, _ = s.Join("abc", "a")
	_, _ = s.Join("abc", "b")

	err := s.With("abc", func(r *Room) error {
		_, err := r.CreateFromOffer("a", "", []byte("O"), "")
		return err
	})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	if err := s.Leave("abc", "b"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	closed := n.ofKind("closed")
	if len(closed) != 1 || closed[0].reason != ReasonLeft || closed[0].about != "b" {
		t.Fatalf("closed=%+v, want one left by b", closed)
	}
	left := n.ofKind("member_left")
	if len(left) != 1 || left[0].to != "a" || left[0].about != "b" {
		t.Fatalf("member_left=%+v, want one to a about b", left)
	}
	if st := s.Stats(); st.Sessions != 0 || st.Members != 1 {
		t.Fatalf("stats=%+v, want 1 member 0 sessions", st)
	}
}

func TestWith_NeverCreates(t *testing.T) {
	s, _ := newTestStore(ModePairwise)
	called := false
	err := s.With("ghost", func(*Room) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrRoomNotFound) || called {
		t.Fatalf("err=%v called=%v, want room not found without callback", err, called)
	}
	if s.Exists("ghost") {
		t.Fatalf("With created a room")
	}
}

func TestOtherMember(t *testing.T) {
	s, _ := newTestStore(ModePairwise)
	_, _ = s.Join("abc", "a")
	if _, ok := s.OtherMember("abc", "a"); ok {
		t.Fatalf("alone member has an other member")
	}
	_, _ = s.Join("abc", "b")
	if other, ok := s.OtherMember("abc", "a"); !ok || other != "b" {
		t.Fatalf("other=%q,%v, want b", other, ok)
	}
	if other, ok := s.OtherMember("abc", "b"); !ok || other != "a" {
		t.Fatalf("other=%q,%v, want a", other, ok)
	}
	if _, ok := s.OtherMember("abc", "z"); ok {
		t.Fatalf("non-member has an other member")
	}
}

func TestCloseAll(t *testing.T) {
	s, n := newTestStore(ModePairwise)
	_, _ = s.Join("abc", "a")
	_, _ = s.Join("abc", "b")
	_, _ = s.Join("xyz", "c")
	_ = s.With("abc", func(r *Room) error {
		_, err := r.CreateFromOffer("a", "", []byte("O"), "")
		return err
	})

	s.CloseAll()

	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v, want zero", st)
	}
	closed := n.ofKind("closed")
	if len(closed) != 1 || closed[0].reason != ReasonCancelled {
		t.Fatalf("closed=%+v, want one cancelled", closed)
	}
}

func TestConcurrentJoinLeave_RoomExistsIffNonEmpty(t *testing.T) {
	s := NewStore(Options{Mode: ModeMultiparty})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				if _, err := s.Join("shared", id); err != nil {
					t.Errorf("join %s: %v", id, err)
					return
				}
				if err := s.Leave("shared", id); err != nil {
					t.Errorf("leave %s: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if s.Exists("shared") {
		t.Fatalf("room present after every member left")
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v, want zero", st)
	}
}
