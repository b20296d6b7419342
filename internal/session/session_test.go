package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auranym/dicechat/internal/message"
	"github.com/auranym/dicechat/internal/packet"
	"github.com/auranym/dicechat/internal/roomcode"
	"github.com/auranym/dicechat/internal/transport"
)

// fastHeartbeat keeps liveness tests quick.
var fastHeartbeat = Heartbeat{Interval: 20 * time.Millisecond, Timeout: 100 * time.Millisecond}

const waitFor = 2 * time.Second

func openTestRoom(t *testing.T, tp transport.Transport, username string, events HostEvents) *Host {
	t.Helper()
	host, err := OpenRoom(context.Background(), HostConfig{
		Username:  username,
		Transport: tp,
		Heartbeat: fastHeartbeat,
		Events:    events,
	})
	require.NoError(t, err)
	t.Cleanup(host.Close)
	return host
}

func joinTestRoom(t *testing.T, tp transport.Transport, code, username string, events ClientEvents) *Client {
	t.Helper()
	client, err := JoinRoom(context.Background(), ClientConfig{
		Username:  username,
		RoomCode:  code,
		Transport: tp,
		Heartbeat: fastHeartbeat,
		Events:    events,
	})
	require.NoError(t, err)
	t.Cleanup(client.Leave)
	return client
}

func recvMessage(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message delivered")
		return message.Message{}
	}
}

func recvString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(waitFor):
		t.Fatal("no notification delivered")
		return ""
	}
}

func TestOpenRoomRequiresUsername(t *testing.T) {
	_, err := OpenRoom(context.Background(), HostConfig{Transport: transport.NewMemory()})
	assert.ErrorIs(t, err, ErrInvalidUsername)
	assert.Equal(t, "Username is invalid.", FatalReason(err))
}

func TestJoinRoomValidation(t *testing.T) {
	tp := transport.NewMemory()

	_, err := JoinRoom(context.Background(), ClientConfig{RoomCode: "ABCDEF", Transport: tp})
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = JoinRoom(context.Background(), ClientConfig{Username: "alice", RoomCode: "abc", Transport: tp})
	assert.ErrorIs(t, err, ErrInvalidRoomCode)
	assert.Equal(t, "Missing/invalid room code.", FatalReason(err))
}

func TestJoinUnknownRoom(t *testing.T) {
	_, err := JoinRoom(context.Background(), ClientConfig{
		Username:  "alice",
		RoomCode:  "QQQQQQ",
		Transport: transport.NewMemory(),
	})
	assert.ErrorIs(t, err, transport.ErrNotFound)
	assert.Equal(t, "Could not find a room with that code.", FatalReason(err))
}

func TestJoinAndChat(t *testing.T) {
	tp := transport.NewMemory()

	joined := make(chan string, 1)
	hostChat := make(chan message.Message, 16)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Joined: func(u string) { joined <- u },
		Chat:   func(m message.Message) { hostChat <- m },
	})
	assert.True(t, roomcode.Validate(host.RoomCode()))
	assert.Equal(t, "zed", host.Username())

	clientChat := make(chan message.Message, 16)
	client := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{
		Chat: func(m message.Message) { clientChat <- m },
	})
	assert.Equal(t, "alice", client.Username())
	assert.Equal(t, "zed", client.HostUsername())
	assert.Equal(t, "alice", recvString(t, joined))
	assert.Equal(t, []string{"alice"}, host.Usernames())

	// Host broadcast reaches the client and echoes locally.
	host.Say("hello")
	assert.Equal(t, message.New("zed", "hello"), recvMessage(t, hostChat))
	assert.Equal(t, message.New("zed", "hello"), recvMessage(t, clientChat))

	// Client chat reaches the host and is echoed back to the sender.
	require.NoError(t, client.Send("hi there"))
	assert.Equal(t, message.New("alice", "hi there"), recvMessage(t, hostChat))
	assert.Equal(t, message.New("alice", "hi there"), recvMessage(t, clientChat))

	// Announcements are unattributed block lines.
	host.Announce("alice has joined!")
	assert.Equal(t, message.System("alice has joined!"), recvMessage(t, hostChat))
	assert.Equal(t, message.System("alice has joined!"), recvMessage(t, clientChat))
}

func TestUsernameArbitration(t *testing.T) {
	tp := transport.NewMemory()
	host := openTestRoom(t, tp, "zed", HostEvents{})

	// The host's own name is taken.
	c1 := joinTestRoom(t, tp, host.RoomCode(), "zed", ClientEvents{})
	assert.Equal(t, "zed2", c1.Username())

	// Duplicates among clients get increasing suffixes.
	c2 := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{})
	c3 := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{})
	c4 := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{})
	assert.Equal(t, "alice", c2.Username())
	assert.Equal(t, "alice2", c3.Username())
	assert.Equal(t, "alice3", c4.Username())

	assert.Equal(t, []string{"alice", "alice2", "alice3", "zed2"}, host.Usernames())
}

func TestRollCommandRendersResult(t *testing.T) {
	tp := transport.NewMemory()
	hostChat := make(chan message.Message, 16)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Chat: func(m message.Message) { hostChat <- m },
	})

	clientChat := make(chan message.Message, 16)
	client := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{
		Chat: func(m message.Message) { clientChat <- m },
	})

	require.NoError(t, client.Send("/roll 1d6"))

	// Everyone sees the rendered result, never the raw command text.
	for _, got := range []message.Message{recvMessage(t, hostChat), recvMessage(t, clientChat)} {
		assert.True(t, got.Block)
		assert.True(t, strings.HasPrefix(got.Content, "alice rolled 1d6: "))
		assert.NotContains(t, got.Content, "/roll")
	}
}

func TestWhisperRouting(t *testing.T) {
	tp := transport.NewMemory()
	hostChat := make(chan message.Message, 16)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Chat: func(m message.Message) { hostChat <- m },
	})

	aliceChat := make(chan message.Message, 16)
	alice := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{
		Chat: func(m message.Message) { aliceChat <- m },
	})
	bobChat := make(chan message.Message, 16)
	joinTestRoom(t, tp, host.RoomCode(), "bob", ClientEvents{
		Chat: func(m message.Message) { bobChat <- m },
	})

	require.NoError(t, alice.Send("/whisper bob psst"))

	want := message.Message{Username: "(whisper) alice to bob", Content: "psst"}
	assert.Equal(t, want, recvMessage(t, aliceChat))
	assert.Equal(t, want, recvMessage(t, bobChat))

	// The host is not a whisper target; a broadcast afterwards must be
	// the next thing it sees.
	host.Say("moving on")
	assert.Equal(t, message.New("zed", "moving on"), recvMessage(t, hostChat))
}

func TestCommandMisuseNoticeGoesToSenderOnly(t *testing.T) {
	tp := transport.NewMemory()
	host := openTestRoom(t, tp, "zed", HostEvents{})

	aliceChat := make(chan message.Message, 16)
	alice := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{
		Chat: func(m message.Message) { aliceChat <- m },
	})
	bobChat := make(chan message.Message, 16)
	joinTestRoom(t, tp, host.RoomCode(), "bob", ClientEvents{
		Chat: func(m message.Message) { bobChat <- m },
	})

	require.NoError(t, alice.Send("/nosuchcommand"))
	notice := recvMessage(t, aliceChat)
	assert.True(t, notice.Block)
	assert.Contains(t, notice.Content, "Invalid command")

	require.NoError(t, alice.Send("hello all"))
	assert.Equal(t, message.New("alice", "hello all"), recvMessage(t, bobChat))
}

func TestHostLocalEchoExactlyOnce(t *testing.T) {
	tp := transport.NewMemory()
	hostChat := make(chan message.Message, 16)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Chat: func(m message.Message) { hostChat <- m },
	})
	joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{})

	// A host-to-client whisper targets the host once, locally.
	host.Say("/whisper alice hey")
	want := message.Message{Username: "(whisper) zed to alice", Content: "hey"}
	assert.Equal(t, want, recvMessage(t, hostChat))

	host.Say("done")
	assert.Equal(t, message.New("zed", "done"), recvMessage(t, hostChat))
}

func TestClientLeaveFiresLeftOnce(t *testing.T) {
	tp := transport.NewMemory()
	left := make(chan string, 4)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Left: func(u string) { left <- u },
	})

	failed := make(chan string, 1)
	client := joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{
		Failed: func(reason string) { failed <- reason },
	})

	client.Leave()
	assert.Equal(t, "alice", recvString(t, left))

	// An explicit leave is not a failure, and Left fires only once.
	select {
	case reason := <-failed:
		t.Fatalf("unexpected Failed(%q) after explicit leave", reason)
	case u := <-left:
		t.Fatalf("duplicate Left(%q)", u)
	case <-time.After(300 * time.Millisecond):
	}

	// Leave is idempotent.
	client.Leave()
}

func TestHostCloseNotifiesClients(t *testing.T) {
	tp := transport.NewMemory()
	closed := make(chan string, 1)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Closed: func(reason string) { closed <- reason },
	})

	failed := make(chan string, 1)
	joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{
		Failed: func(reason string) { failed <- reason },
	})

	host.Close()
	assert.Equal(t, reasonRoomClosed, recvString(t, closed))
	assert.Equal(t, reasonHostLost, recvString(t, failed))

	select {
	case <-host.Done():
	case <-time.After(waitFor):
		t.Fatal("host Done not closed")
	}

	// The identifier is released; the code can be claimed again.
	_, err := tp.Listen(context.Background(), roomcode.TransportID(host.RoomCode()))
	assert.NoError(t, err)
}

// A client that connects and then goes silent must be timed out and
// removed, firing Left exactly once.
func TestHostTimesOutSilentClient(t *testing.T) {
	tp := transport.NewMemory()
	joined := make(chan string, 1)
	left := make(chan string, 4)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Joined: func(u string) { joined <- u },
		Left:   func(u string) { left <- u },
	})

	// Raw channel join: handshake, then silence. No pings keep it alive.
	ch, err := tp.Dial(context.Background(), roomcode.TransportID(host.RoomCode()))
	require.NoError(t, err)
	require.NoError(t, ch.Send(packet.Encode(packet.UsernamePacket("ghost"))))
	assert.Equal(t, "ghost", recvString(t, joined))

	assert.Equal(t, "ghost", recvString(t, left))
	select {
	case u := <-left:
		t.Fatalf("duplicate Left(%q)", u)
	case <-time.After(300 * time.Millisecond):
	}
}

// A host that goes silent after the handshake must be detected by the
// client's staleness check.
func TestClientTimesOutSilentHost(t *testing.T) {
	tp := transport.NewMemory()
	code := "AAAAAA"

	ln, err := tp.Listen(context.Background(), roomcode.TransportID(code))
	require.NoError(t, err)
	defer ln.Close()

	// Fake host: answer the handshake, then go silent.
	go func() {
		ch := <-ln.Accept()
		for payload := range ch.Recv() {
			pkt := packet.Decode(payload)
			if pkt.Type == packet.Username {
				reply := joinReply{Client: pkt.ContentString(), Host: "zed"}.encode()
				_ = ch.Send(packet.Encode(packet.UsernamePacket(reply)))
			}
		}
	}()

	failed := make(chan string, 1)
	client, err := JoinRoom(context.Background(), ClientConfig{
		Username:  "alice",
		RoomCode:  code,
		Transport: tp,
		Heartbeat: fastHeartbeat,
		Events: ClientEvents{
			Failed: func(reason string) { failed <- reason },
		},
	})
	require.NoError(t, err)

	assert.Equal(t, reasonHostLost, recvString(t, failed))
	select {
	case <-client.Done():
	case <-time.After(waitFor):
		t.Fatal("client Done not closed")
	}
}

// Usernames must return promptly after Close, even when its task is
// accepted by the queue but the loop is already gone.
func TestUsernamesAfterClose(t *testing.T) {
	tp := transport.NewMemory()
	host := openTestRoom(t, tp, "zed", HostEvents{})
	joinTestRoom(t, tp, host.RoomCode(), "alice", ClientEvents{})

	host.Close()
	for i := 0; i < 20; i++ {
		got := make(chan []string, 1)
		go func() { got <- host.Usernames() }()
		select {
		case names := <-got:
			assert.Nil(t, names)
		case <-time.After(time.Second):
			t.Fatalf("Usernames blocked after Close (call %d)", i+1)
		}
	}
}

// Broadcasts go to every open channel, handshake completed or not.
func TestBroadcastReachesPreHandshakeChannels(t *testing.T) {
	tp := transport.NewMemory()
	// A long staleness threshold keeps the silent channel from being
	// timed out under the test.
	host, err := OpenRoom(context.Background(), HostConfig{
		Username:  "zed",
		Transport: tp,
		Heartbeat: Heartbeat{Interval: 20 * time.Millisecond, Timeout: 10 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(host.Close)

	ch, err := tp.Dial(context.Background(), roomcode.TransportID(host.RoomCode()))
	require.NoError(t, err)
	defer ch.Close()

	got := make(chan message.Message, 1)
	go func() {
		for payload := range ch.Recv() {
			pkt := packet.Decode(payload)
			if pkt.Type != packet.Message {
				continue
			}
			if msg, err := message.Parse(pkt.ContentString()); err == nil {
				got <- msg
				return
			}
		}
	}()

	// The dial races the host's accept; repeat until the broadcast
	// lands or the deadline passes.
	deadline := time.After(waitFor)
	for {
		host.Announce("room is open")
		select {
		case msg := <-got:
			assert.Equal(t, message.System("room is open"), msg)
			return
		case <-deadline:
			t.Fatal("broadcast never reached the pre-handshake channel")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Packets that do not decode must never disturb the session.
func TestHostIgnoresGarbagePayloads(t *testing.T) {
	tp := transport.NewMemory()
	hostChat := make(chan message.Message, 16)
	host := openTestRoom(t, tp, "zed", HostEvents{
		Chat: func(m message.Message) { hostChat <- m },
	})

	ch, err := tp.Dial(context.Background(), roomcode.TransportID(host.RoomCode()))
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send([]byte("not json at all")))
	// A message before the handshake has no sender and is dropped.
	require.NoError(t, ch.Send(packet.Encode(packet.MessagePacket("early"))))

	host.Say("still here")
	assert.Equal(t, message.New("zed", "still here"), recvMessage(t, hostChat))
}
