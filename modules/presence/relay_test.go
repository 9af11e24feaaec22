package presence

import (
	"strings"
	"testing"

	domain "github.com/example/campus-presence/domain/presence"
)

// fakeSender records every frame handed to it, per connection.
type fakeSender struct {
	frames map[string][]Outbound
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][]Outbound)}
}

func (f *fakeSender) Send(connID string, event Outbound) {
	f.frames[connID] = append(f.frames[connID], event)
}

func (f *fakeSender) of(connID string) []Outbound {
	return f.frames[connID]
}

func (f *fakeSender) typesOf(connID string) []string {
	var types []string
	for _, fr := range f.frames[connID] {
		types = append(types, fr.Type)
	}
	return types
}

func (f *fakeSender) reset() {
	f.frames = make(map[string][]Outbound)
}

// fakeEmitter records durable-worthy events instead of publishing them.
type fakeEmitter struct {
	messages []domain.Message
	privates []struct {
		msg       domain.Message
		delivered bool
	}
	joins  []string // "roomID/userID"
	leaves []string
}

func (f *fakeEmitter) MessageSent(msg domain.Message) {
	f.messages = append(f.messages, msg)
}

func (f *fakeEmitter) PrivateMessageSent(msg domain.Message, delivered bool) {
	f.privates = append(f.privates, struct {
		msg       domain.Message
		delivered bool
	}{msg, delivered})
}

func (f *fakeEmitter) UserJoined(roomID string, user domain.Identity) {
	f.joins = append(f.joins, roomID+"/"+user.ID)
}

func (f *fakeEmitter) UserLeft(roomID string, user domain.Identity) {
	f.leaves = append(f.leaves, roomID+"/"+user.ID)
}

type relayFixture struct {
	relay     *Relay
	lifecycle *Lifecycle
	sender    *fakeSender
	emitter   *fakeEmitter
}

func newRelayFixture() *relayFixture {
	registry := NewConnRegistry()
	tracker := NewRoomTracker()
	sender := newFakeSender()
	emitter := &fakeEmitter{}
	relay := NewRelay(registry, tracker, sender, emitter, nil)
	lifecycle := NewLifecycle(registry, tracker, relay, nil)
	return &relayFixture{
		relay:     relay,
		lifecycle: lifecycle,
		sender:    sender,
		emitter:   emitter,
	}
}

// connect opens, authenticates and returns nothing; the welcome frame is the
// transport's job, so tests start at authenticate.
func (fx *relayFixture) connect(connID string, identity domain.Identity) {
	fx.lifecycle.OnConnect(connID)
	fx.relay.Dispatch(connID, Authenticate{Identity: identity})
}

func (fx *relayFixture) join(connID, roomID string) {
	fx.relay.Dispatch(connID, JoinRoom{RoomID: roomID})
}

var (
	alice = domain.Identity{ID: "u-alice", Name: "Alice"}
	bob   = domain.Identity{ID: "u-bob", Name: "Bob"}
	carol = domain.Identity{ID: "u-carol", Name: "Carol"}
)

func TestRelay_RequiresAuthentication(t *testing.T) {
	fx := newRelayFixture()
	fx.lifecycle.OnConnect("c1")

	fx.relay.Dispatch("c1", JoinRoom{RoomID: "lounge"})

	frames := fx.sender.of("c1")
	if len(frames) != 1 || frames[0].Type != OutError {
		t.Fatalf("expected a single error frame, got %v", frames)
	}
	if !strings.Contains(frames[0].Error, "not authenticated") {
		t.Errorf("error = %q, want authentication rejection", frames[0].Error)
	}
}

func TestRelay_JoinRoom(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a1", alice)
	fx.connect("b1", bob)
	fx.join("a1", "lounge")

	t.Run("joiner receives roster", func(t *testing.T) {
		frames := fx.sender.of("a1")
		if len(frames) != 1 || frames[0].Type != OutRoomUsers {
			t.Fatalf("expected room_users frame, got %v", fx.sender.typesOf("a1"))
		}
		roster := frames[0].Payload.(RoomUsersPayload)
		if roster.RoomID != "lounge" || len(roster.Users) != 1 {
			t.Errorf("unexpected roster: %+v", roster)
		}
	})

	t.Run("existing members notified of new joiner", func(t *testing.T) {
		fx.join("b1", "lounge")

		aliceTypes := fx.sender.typesOf("a1")
		if len(aliceTypes) != 2 || aliceTypes[1] != OutUserJoined {
			t.Fatalf("expected user_joined for alice, got %v", aliceTypes)
		}
		joined := fx.sender.of("a1")[1].Payload.(UserJoinedPayload)
		if joined.User.ID != bob.ID {
			t.Errorf("user_joined carries %q, want %q", joined.User.ID, bob.ID)
		}

		// The joiner gets the roster, never their own user_joined.
		for _, typ := range fx.sender.typesOf("b1") {
			if typ == OutUserJoined {
				t.Error("joiner must not receive their own user_joined")
			}
		}
	})

	t.Run("join emitted for durable consumers", func(t *testing.T) {
		if len(fx.emitter.joins) != 2 {
			t.Fatalf("expected 2 join events, got %v", fx.emitter.joins)
		}
	})
}

func TestRelay_JoinSecondDeviceIsSilent(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a-laptop", alice)
	fx.connect("a-phone", alice)
	fx.connect("b1", bob)
	fx.join("a-laptop", "lounge")
	fx.join("b1", "lounge")
	fx.sender.reset()

	fx.join("a-phone", "lounge")

	// The second device still gets the roster.
	if types := fx.sender.typesOf("a-phone"); len(types) != 1 || types[0] != OutRoomUsers {
		t.Errorf("expected roster for second device, got %v", types)
	}
	// No presence churn for the rest of the room.
	if frames := fx.sender.of("b1"); len(frames) != 0 {
		t.Errorf("expected no frames for bob, got %v", frames)
	}
}

func TestRelay_LeaveRoom(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a1", alice)
	fx.connect("b1", bob)
	fx.join("a1", "lounge")
	fx.join("b1", "lounge")
	fx.sender.reset()

	fx.relay.Dispatch("a1", LeaveRoom{RoomID: "lounge"})

	frames := fx.sender.of("b1")
	if len(frames) != 1 || frames[0].Type != OutUserLeft {
		t.Fatalf("expected user_left for bob, got %v", fx.sender.typesOf("b1"))
	}
	left := frames[0].Payload.(UserLeftPayload)
	if left.User.ID != alice.ID {
		t.Errorf("user_left carries %q, want %q", left.User.ID, alice.ID)
	}
	if len(fx.emitter.leaves) != 1 || fx.emitter.leaves[0] != "lounge/u-alice" {
		t.Errorf("unexpected leave events: %v", fx.emitter.leaves)
	}
}

func TestRelay_LeaveWithOtherDeviceIsSilent(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a-laptop", alice)
	fx.connect("a-phone", alice)
	fx.connect("b1", bob)
	fx.join("a-laptop", "lounge")
	fx.join("a-phone", "lounge")
	fx.join("b1", "lounge")
	fx.sender.reset()

	fx.relay.Dispatch("a-laptop", LeaveRoom{RoomID: "lounge"})

	if frames := fx.sender.of("b1"); len(frames) != 0 {
		t.Errorf("expected no user_left while phone remains, got %v", frames)
	}

	fx.relay.Dispatch("a-phone", LeaveRoom{RoomID: "lounge"})

	if types := fx.sender.typesOf("b1"); len(types) != 1 || types[0] != OutUserLeft {
		t.Errorf("expected user_left after last device leaves, got %v", types)
	}
}

func TestRelay_SendMessageFanOut(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a-laptop", alice)
	fx.connect("a-phone", alice)
	fx.connect("b1", bob)
	fx.connect("c1", carol)
	fx.join("a-laptop", "lounge")
	fx.join("a-phone", "lounge")
	fx.join("b1", "lounge")
	fx.join("c1", "study") // different room, must not receive
	fx.sender.reset()

	fx.relay.Dispatch("a-laptop", SendMessage{RoomID: "lounge", Content: "hi all"})

	t.Run("every room connection receives it, sender devices included", func(t *testing.T) {
		for _, connID := range []string{"a-laptop", "a-phone", "b1"} {
			frames := fx.sender.of(connID)
			if len(frames) != 1 || frames[0].Type != OutNewMessage {
				t.Fatalf("conn %s: expected new_message, got %v", connID, fx.sender.typesOf(connID))
			}
			msg := frames[0].Payload.(domain.Message)
			if msg.Content != "hi all" || msg.Sender.ID != alice.ID || msg.RoomID != "lounge" {
				t.Errorf("conn %s: unexpected message %+v", connID, msg)
			}
			if msg.ID == "" {
				t.Errorf("conn %s: message id not assigned", connID)
			}
		}
	})

	t.Run("other rooms untouched", func(t *testing.T) {
		if frames := fx.sender.of("c1"); len(frames) != 0 {
			t.Errorf("expected no frames for carol, got %v", frames)
		}
	})

	t.Run("message emitted once for persistence", func(t *testing.T) {
		if len(fx.emitter.messages) != 1 {
			t.Fatalf("expected 1 emitted message, got %d", len(fx.emitter.messages))
		}
		if fx.emitter.messages[0].Kind != domain.KindText {
			t.Errorf("kind = %q, want %q", fx.emitter.messages[0].Kind, domain.KindText)
		}
	})
}

func TestRelay_SendMessageHonorsClientID(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a1", alice)
	fx.join("a1", "lounge")
	fx.sender.reset()

	fx.relay.Dispatch("a1", SendMessage{RoomID: "lounge", MessageID: "1700000000000-a1", Content: "echo me"})

	msg := fx.sender.of("a1")[0].Payload.(domain.Message)
	if msg.ID != "1700000000000-a1" {
		t.Errorf("message id = %q, want client-supplied id", msg.ID)
	}
}

func TestRelay_ShareFile(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a1", alice)
	fx.connect("b1", bob)
	fx.join("a1", "lounge")
	fx.join("b1", "lounge")
	fx.sender.reset()

	file := domain.FileMeta{Name: "notes.pdf", Size: 2048, MimeType: "application/pdf", URL: "https://cdn/notes.pdf"}
	fx.relay.Dispatch("a1", ShareFile{RoomID: "lounge", File: file})

	frames := fx.sender.of("b1")
	if len(frames) != 1 || frames[0].Type != OutNewMessage {
		t.Fatalf("expected new_message, got %v", fx.sender.typesOf("b1"))
	}
	msg := frames[0].Payload.(domain.Message)
	if msg.Kind != domain.KindFile {
		t.Errorf("kind = %q, want %q", msg.Kind, domain.KindFile)
	}
	if msg.File == nil || msg.File.Name != "notes.pdf" {
		t.Errorf("file metadata not carried: %+v", msg.File)
	}
}

func TestRelay_Typing(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a-laptop", alice)
	fx.connect("a-phone", alice)
	fx.connect("b1", bob)
	fx.join("a-laptop", "lounge")
	fx.join("a-phone", "lounge")
	fx.join("b1", "lounge")
	fx.sender.reset()

	fx.relay.Dispatch("a-laptop", TypingStart{RoomID: "lounge"})

	t.Run("peers receive the indicator", func(t *testing.T) {
		frames := fx.sender.of("b1")
		if len(frames) != 1 || frames[0].Type != OutUserTyping {
			t.Fatalf("expected user_typing, got %v", fx.sender.typesOf("b1"))
		}
		p := frames[0].Payload.(UserTypingPayload)
		if p.UserID != alice.ID || !p.IsTyping {
			t.Errorf("unexpected typing payload: %+v", p)
		}
	})

	t.Run("never echoed to the typist's own devices", func(t *testing.T) {
		if frames := fx.sender.of("a-laptop"); len(frames) != 0 {
			t.Errorf("typist received frames: %v", frames)
		}
		if frames := fx.sender.of("a-phone"); len(frames) != 0 {
			t.Errorf("typist's other device received frames: %v", frames)
		}
	})

	t.Run("stop clears the indicator", func(t *testing.T) {
		fx.relay.Dispatch("a-laptop", TypingStop{RoomID: "lounge"})
		frames := fx.sender.of("b1")
		p := frames[len(frames)-1].Payload.(UserTypingPayload)
		if p.IsTyping {
			t.Error("expected is_typing = false after typing_stop")
		}
	})
}

func TestRelay_PrivateMessage(t *testing.T) {
	t.Run("delivered to every recipient device plus sender confirmation", func(t *testing.T) {
		fx := newRelayFixture()
		fx.connect("a1", alice)
		fx.connect("b-laptop", bob)
		fx.connect("b-phone", bob)

		fx.relay.Dispatch("a1", PrivateMessage{RecipientID: bob.ID, Content: "psst"})

		for _, connID := range []string{"b-laptop", "b-phone"} {
			frames := fx.sender.of(connID)
			if len(frames) != 1 || frames[0].Type != OutPrivateMessage {
				t.Fatalf("conn %s: expected private_message, got %v", connID, fx.sender.typesOf(connID))
			}
			msg := frames[0].Payload.(domain.Message)
			if msg.Kind != domain.KindPrivate || msg.RecipientID != bob.ID {
				t.Errorf("conn %s: unexpected message %+v", connID, msg)
			}
		}

		frames := fx.sender.of("a1")
		if len(frames) != 1 || frames[0].Type != OutPrivateMessageSent {
			t.Fatalf("expected private_message_sent for sender, got %v", fx.sender.typesOf("a1"))
		}

		if len(fx.emitter.privates) != 1 || !fx.emitter.privates[0].delivered {
			t.Errorf("expected delivered private event, got %+v", fx.emitter.privates)
		}
	})

	t.Run("offline recipient is a silent drop", func(t *testing.T) {
		fx := newRelayFixture()
		fx.connect("a1", alice)

		fx.relay.Dispatch("a1", PrivateMessage{RecipientID: "u-nobody", Content: "anyone there"})

		// No error frame; the sender still gets its confirmation.
		frames := fx.sender.of("a1")
		if len(frames) != 1 || frames[0].Type != OutPrivateMessageSent {
			t.Fatalf("expected only private_message_sent, got %v", fx.sender.typesOf("a1"))
		}
		if len(fx.emitter.privates) != 1 || fx.emitter.privates[0].delivered {
			t.Errorf("expected undelivered private event, got %+v", fx.emitter.privates)
		}
	})
}

func TestLifecycle_DisconnectCleansEverything(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a1", alice)
	fx.connect("b1", bob)
	fx.join("a1", "lounge")
	fx.join("a1", "study")
	fx.join("b1", "lounge")
	fx.sender.reset()

	fx.lifecycle.OnDisconnect("a1")

	t.Run("rooms notified", func(t *testing.T) {
		frames := fx.sender.of("b1")
		if len(frames) != 1 || frames[0].Type != OutUserLeft {
			t.Fatalf("expected user_left for bob, got %v", fx.sender.typesOf("b1"))
		}
	})

	t.Run("registry purged", func(t *testing.T) {
		if _, ok := fx.relay.registry.Lookup("a1"); ok {
			t.Error("registry still maps the disconnected connection")
		}
	})

	t.Run("tracker purged", func(t *testing.T) {
		if rooms := fx.relay.tracker.RoomsOf("a1"); len(rooms) != 0 {
			t.Errorf("tracker still lists rooms for a1: %v", rooms)
		}
		for _, m := range fx.relay.tracker.MembersOf("lounge") {
			if m.ID == alice.ID {
				t.Error("alice still a member of lounge")
			}
		}
	})

	t.Run("duplicate disconnect is a no-op", func(t *testing.T) {
		fx.sender.reset()
		fx.lifecycle.OnDisconnect("a1")
		if frames := fx.sender.of("b1"); len(frames) != 0 {
			t.Errorf("duplicate disconnect produced frames: %v", frames)
		}
	})
}

func TestLifecycle_DisconnectSecondDeviceStaysPresent(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("a-laptop", alice)
	fx.connect("a-phone", alice)
	fx.connect("b1", bob)
	fx.join("a-laptop", "lounge")
	fx.join("a-phone", "lounge")
	fx.join("b1", "lounge")
	fx.sender.reset()

	fx.lifecycle.OnDisconnect("a-laptop")

	if frames := fx.sender.of("b1"); len(frames) != 0 {
		t.Errorf("expected no user_left while the phone is connected, got %v", frames)
	}

	found := false
	for _, m := range fx.relay.tracker.MembersOf("lounge") {
		if m.ID == alice.ID {
			found = true
		}
	}
	if !found {
		t.Error("alice dropped from the room while a device remains")
	}

	fx.lifecycle.OnDisconnect("a-phone")
	if types := fx.sender.typesOf("b1"); len(types) != 1 || types[0] != OutUserLeft {
		t.Errorf("expected user_left after the last device drops, got %v", types)
	}
}

func TestLifecycle_DisconnectAfterReauthentication(t *testing.T) {
	fx := newRelayFixture()
	fx.connect("c1", alice)
	fx.connect("obs", carol)
	fx.join("c1", "lounge")
	fx.join("obs", "lounge")

	// The connection switches identity and rejoins, so its id now sits in
	// two members' connection sets.
	fx.relay.Dispatch("c1", Authenticate{Identity: bob})
	fx.join("c1", "lounge")
	fx.sender.reset()

	fx.lifecycle.OnDisconnect("c1")

	t.Run("no ghost members remain", func(t *testing.T) {
		if members := fx.relay.tracker.MembersOf("lounge"); len(members) != 1 || members[0].ID != carol.ID {
			t.Errorf("MembersOf(lounge) = %v, want only carol", members)
		}
		if conns := fx.relay.tracker.ConnectionsIn("lounge"); len(conns) != 1 || conns[0] != "obs" {
			t.Errorf("fan-out set = %v, want [obs]", conns)
		}
	})

	t.Run("user_left announces the identities whose membership was removed", func(t *testing.T) {
		left := make(map[string]bool)
		for _, fr := range fx.sender.of("obs") {
			if fr.Type != OutUserLeft {
				t.Fatalf("unexpected frame type %q", fr.Type)
			}
			left[fr.Payload.(UserLeftPayload).User.ID] = true
		}
		if len(left) != 2 || !left[alice.ID] || !left[bob.ID] {
			t.Errorf("user_left set = %v, want both alice and bob", left)
		}
	})
}

func TestLifecycle_DisconnectBeforeAuthenticate(t *testing.T) {
	fx := newRelayFixture()
	fx.lifecycle.OnConnect("c1")
	fx.lifecycle.OnDisconnect("c1")

	if fx.lifecycle.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections() = %d, want 0", fx.lifecycle.ActiveConnections())
	}
	for connID, frames := range fx.sender.frames {
		t.Errorf("unexpected frames for %s: %v", connID, frames)
	}
}
