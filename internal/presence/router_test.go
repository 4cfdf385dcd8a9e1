// ABOUTME: Tests for the presence router
// ABOUTME: Online broadcasts, targeted routing, seen receipts, inbound frames, and teardown

package presence

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/cache"
	"github.com/2389/relay-gateway/internal/session"
	"github.com/2389/relay-gateway/internal/store"
)

type routerFixture struct {
	router *Router
	store  *store.MockStore
	layer  *cache.Layer
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	backend := cache.NewMemoryBackend(100)
	t.Cleanup(func() { _ = backend.Close() })

	ms := store.NewMockStore()
	layer := cache.NewLayer(backend, nil)
	r := NewRouter(session.NewRegistry(nil), ms, layer, nil)
	t.Cleanup(r.Close)
	return &routerFixture{router: r, store: ms, layer: layer}
}

func (f *routerFixture) connect(userID string) (*Connection, *fakeSocket) {
	conn, sock := newTestConnection(userID)
	f.router.Connect(conn)
	return conn, sock
}

func TestRouter_ConnectBroadcastsOnlineUsers(t *testing.T) {
	f := newRouterFixture(t)

	_, anon := f.connect("")
	_, alice := f.connect("alice")
	_, bob := f.connect("bob")

	var online []string
	bob.waitEvent(t, EventOnlineUsers, 1, &online)
	assert.Equal(t, []string{"alice", "bob"}, online)

	// Earlier connections, anonymous ones included, see every change
	alice.waitEvent(t, EventOnlineUsers, 2, &online)
	assert.Equal(t, []string{"alice", "bob"}, online)
	anon.waitEvent(t, EventOnlineUsers, 3, &online)
	assert.Equal(t, []string{"alice", "bob"}, online)

	assert.Equal(t, []string{"alice", "bob"}, f.router.OnlineUsers())
	assert.Equal(t, 3, f.router.ConnectionCount())
}

func TestRouter_DisconnectBroadcastsAndCloses(t *testing.T) {
	f := newRouterFixture(t)

	aliceConn, aliceSock := f.connect("alice")
	_, bob := f.connect("bob")

	f.router.Disconnect(aliceConn)

	assert.True(t, aliceSock.isClosed())
	var online []string
	bob.waitEvent(t, EventOnlineUsers, 2, &online)
	assert.Equal(t, []string{"bob"}, online)

	// A second disconnect is a no-op
	f.router.Disconnect(aliceConn)
	assert.Len(t, bob.events(t, EventOnlineUsers), 2)
}

func TestRouter_ConcurrentMembershipChangesEndWithCurrentList(t *testing.T) {
	const users = 32

	for round := range 20 {
		f := newRouterFixture(t)
		_, watcher := f.connect("")

		conns := make([]*Connection, users)
		for i := range conns {
			conns[i], _ = newTestConnection(fmt.Sprintf("user-%02d-%d", i, round))
		}

		var wg sync.WaitGroup
		for _, conn := range conns {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.router.Connect(conn)
			}()
		}
		wg.Wait()

		var online []string
		watcher.waitEvent(t, EventOnlineUsers, users+1, &online)
		require.Len(t, online, users, "round %d: last broadcast must list every user", round)
		assert.Equal(t, f.router.OnlineUsers(), online)

		for _, conn := range conns[:users/2] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.router.Disconnect(conn)
			}()
		}
		wg.Wait()

		watcher.waitEvent(t, EventOnlineUsers, users+1+users/2, &online)
		require.Len(t, online, users/2, "round %d: last broadcast must reflect every disconnect", round)
		assert.Equal(t, f.router.OnlineUsers(), online)
	}
}

func TestRouter_StaleTabDisconnectKeepsNewerBinding(t *testing.T) {
	f := newRouterFixture(t)

	oldTab, _ := f.connect("alice")
	_, newSock := f.connect("alice")

	f.router.Disconnect(oldTab)
	assert.Equal(t, []string{"alice"}, f.router.OnlineUsers())

	// Events reach the newer tab
	f.router.Typing("bob", "alice")
	var p TypingPayload
	newSock.waitEvent(t, EventTyping, 1, &p)
	assert.Equal(t, "bob", p.SenderID)
}

func TestRouter_TypingTargetsReceiverOnly(t *testing.T) {
	f := newRouterFixture(t)

	_, alice := f.connect("alice")
	_, bob := f.connect("bob")
	_, carol := f.connect("carol")

	f.router.Typing("alice", "bob")
	f.router.StopTyping("alice", "bob")

	var p TypingPayload
	bob.waitEvent(t, EventTyping, 1, &p)
	assert.Equal(t, "alice", p.SenderID)
	assert.Empty(t, p.ReceiverID)
	bob.waitEvent(t, EventStopTyping, 1, nil)

	assert.Empty(t, alice.events(t, EventTyping))
	assert.Empty(t, carol.events(t, EventTyping))

	// Offline receiver is a silent drop
	f.router.Typing("alice", "nobody")
}

func TestRouter_MarkSeen(t *testing.T) {
	f := newRouterFixture(t)
	ctx := t.Context()

	for _, text := range []string{"one", "two"} {
		require.NoError(t, f.store.CreateMessage(ctx, &store.Message{SenderID: "alice", ReceiverID: "bob", Text: text}))
	}
	// Bob's own message to alice is not touched when bob views alice
	require.NoError(t, f.store.CreateMessage(ctx, &store.Message{SenderID: "bob", ReceiverID: "alice", Text: "reply"}))
	require.NoError(t, f.layer.SetConversation(ctx, "alice", "bob", []*store.Message{}))

	_, alice := f.connect("alice")

	receipts, err := f.router.MarkSeen(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.True(t, receipts[0].SeenAt.Equal(receipts[1].SeenAt))

	_, err = f.layer.Conversation(ctx, "alice", "bob")
	assert.ErrorIs(t, err, cache.ErrMiss)

	var seen SeenPayload
	alice.waitEvent(t, EventMessageSeen, 1, &seen)
	assert.Equal(t, "bob", seen.ReceiverID)
	assert.Len(t, seen.SeenMessages, 2)

	// Nothing left to transition: no event, cache left alone
	require.NoError(t, f.layer.SetConversation(ctx, "alice", "bob", []*store.Message{}))
	receipts, err = f.router.MarkSeen(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, receipts)
	_, err = f.layer.Conversation(ctx, "alice", "bob")
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, alice.events(t, EventMessageSeen), 1)
}

func TestRouter_MarkSeenStoreFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.store.SetPingErr(errors.New("db down"))

	_, err := f.router.MarkSeen(t.Context(), "bob", "alice")
	assert.Error(t, err)
}

func TestRouter_NewMessageReachesBothParticipants(t *testing.T) {
	f := newRouterFixture(t)

	_, alice := f.connect("alice")
	_, bob := f.connect("bob")
	_, carol := f.connect("carol")

	msg := &store.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi", CreatedAt: time.Now()}
	f.router.NewMessage(msg, &store.User{ID: "alice", FullName: "Alice A", ProfilePic: "/uploads/a.png"})

	for _, sock := range []*fakeSocket{alice, bob} {
		var got map[string]any
		sock.waitEvent(t, EventNewMessage, 1, &got)
		assert.Equal(t, "m1", got["id"])
		assert.Equal(t, "hi", got["text"])
		assert.Equal(t, "Alice A", got["fullName"])
		assert.Equal(t, "/uploads/a.png", got["profilePic"])
	}
	assert.Empty(t, carol.events(t, EventNewMessage))
}

func TestRouter_MessageDeletedReachesBothParticipants(t *testing.T) {
	f := newRouterFixture(t)

	_, alice := f.connect("alice")
	_, bob := f.connect("bob")

	deletedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	f.router.MessageDeleted("m1", deletedAt, "alice", "bob")

	for _, sock := range []*fakeSocket{alice, bob} {
		var p DeletedPayload
		sock.waitEvent(t, EventMessageDeleted, 1, &p)
		assert.Equal(t, "m1", p.MessageID)
		assert.True(t, deletedAt.Equal(p.DeletedAt))
	}
}

func TestRouter_HandleFrame_TypingUsesBoundIdentity(t *testing.T) {
	f := newRouterFixture(t)

	mallory, _ := f.connect("mallory")
	_, bob := f.connect("bob")

	f.router.HandleFrame(t.Context(), mallory, []byte(`{"event":"typing","data":{"senderId":"alice","receiverId":"bob"}}`))

	var p TypingPayload
	bob.waitEvent(t, EventTyping, 1, &p)
	assert.Equal(t, "mallory", p.SenderID)
}

func TestRouter_HandleFrame_AnonymousTyping(t *testing.T) {
	f := newRouterFixture(t)

	anon, _ := f.connect("")
	_, bob := f.connect("bob")

	f.router.HandleFrame(t.Context(), anon, []byte(`{"event":"stop-typing","data":{"senderId":"alice","receiverId":"bob"}}`))

	var p TypingPayload
	bob.waitEvent(t, EventStopTyping, 1, &p)
	assert.Equal(t, "alice", p.SenderID)
}

func TestRouter_HandleFrame_MarkSeen(t *testing.T) {
	f := newRouterFixture(t)
	ctx := t.Context()
	require.NoError(t, f.store.CreateMessage(ctx, &store.Message{SenderID: "alice", ReceiverID: "bob", Text: "hi"}))

	_, alice := f.connect("alice")
	bobConn, _ := f.connect("bob")

	f.router.HandleFrame(ctx, bobConn, []byte(`{"event":"mark-messages-seen","data":{"senderId":"alice"}}`))

	var seen SeenPayload
	alice.waitEvent(t, EventMessageSeen, 1, &seen)
	assert.Equal(t, "bob", seen.ReceiverID)
	require.Len(t, seen.SeenMessages, 1)
}

func TestRouter_HandleFrame_Errors(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		frame  string
		want   string
	}{
		{"garbage", "alice", `not json`, "invalid frame"},
		{"unknown event", "alice", `{"event":"dance"}`, "unknown event: dance"},
		{"typing without receiver", "alice", `{"event":"typing","data":{"senderId":"alice"}}`, "receiverId is required"},
		{"anonymous typing without sender", "", `{"event":"typing","data":{"receiverId":"bob"}}`, "senderId is required"},
		{"mark seen without sender", "alice", `{"event":"mark-messages-seen","data":{}}`, "senderId is required"},
		{"mark seen when anonymous", "", `{"event":"mark-messages-seen","data":{"senderId":"bob"}}`, "connection is not bound to a user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			conn, sock := f.connect(tt.userID)

			f.router.HandleFrame(t.Context(), conn, []byte(tt.frame))

			var p ErrorPayload
			sock.waitEvent(t, EventError, 1, &p)
			assert.Equal(t, tt.want, p.Message)
		})
	}
}

func TestRouter_CloseTearsEverythingDown(t *testing.T) {
	f := newRouterFixture(t)

	_, alice := f.connect("alice")
	_, anon := f.connect("")

	f.router.Close()

	assert.True(t, alice.isClosed())
	assert.True(t, anon.isClosed())
	assert.Empty(t, f.router.OnlineUsers())
	assert.Equal(t, 0, f.router.ConnectionCount())
}
