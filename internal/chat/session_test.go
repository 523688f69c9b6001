package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	myMiddleware "github.com/payme-dheeraj/chat-app-backend/internal/middleware"
)

// fakeStore is an in-memory persistence/identity gateway.
type fakeStore struct {
	mu           sync.Mutex
	users        map[int]Participant
	convs        map[int]*Conversation
	participants map[int]map[int]bool
	messages     []Message
	nextID       int
	createErr    error
	touchErr     error
	touched      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[int]Participant),
		convs:        make(map[int]*Conversation),
		participants: make(map[int]map[int]bool),
	}
}

func (f *fakeStore) addUser(id int, username string) {
	f.users[id] = Participant{ID: id, Username: username, DisplayName: username}
}

func (f *fakeStore) addConversation(id int, userIDs ...int) {
	conv := &Conversation{ID: id, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.participants[id] = make(map[int]bool)
	for _, uid := range userIDs {
		conv.Participants = append(conv.Participants, f.users[uid])
		f.participants[id][uid] = true
	}
	f.convs[id] = conv
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) touchedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touched
}

func (f *fakeStore) GetConversation(_ context.Context, id int) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) GetUser(_ context.Context, id int) (*Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, conversationID, senderID int, kind, content, attachment string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	m := Message{
		ID:             f.nextID,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderUsername: f.users[senderID].Username,
		MessageType:    kind,
		Content:        content,
		Attachment:     attachment,
		CreatedAt:      time.Now(),
	}
	f.messages = append(f.messages, m)
	return &m, nil
}

func (f *fakeStore) TouchConversation(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched++
	if conv, ok := f.convs[id]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

func (f *fakeStore) IsParticipant(_ context.Context, conversationID, userID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants[conversationID][userID], nil
}

func (f *fakeStore) ListConversations(_ context.Context, userID int) ([]ConversationSummary, error) {
	return nil, nil
}

func (f *fakeStore) StartConversation(_ context.Context, userID, otherID int) (*Conversation, bool, error) {
	return nil, false, ErrNotFound
}

func (f *fakeStore) ListMessagesMarkRead(_ context.Context, conversationID, readerID int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for i := range f.messages {
		if f.messages[i].ConversationID != conversationID {
			continue
		}
		if f.messages[i].SenderID != readerID {
			f.messages[i].IsRead = true
		}
		out = append(out, f.messages[i])
	}
	return out, nil
}

// newChatServer serves the WebSocket endpoint with the auth middleware
// replaced by an X-Test-User header, so each dial can pick its identity.
func newChatServer(t *testing.T, registry *Registry, store Store) *httptest.Server {
	t.Helper()
	h := NewHandler(registry, store)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := strconv.Atoi(r.Header.Get("X-Test-User"))
		if err != nil {
			http.Error(w, "bad test user", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), myMiddleware.UserKey, uid)
		h.ServeWs(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, conversationID, userID int) *websocket.Conn {
	t.Helper()
	conn, err := tryDial(srv, conversationID, userID)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func tryDial(srv *httptest.Server, conversationID, userID int) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/?conversation_id=%d", conversationID)
	header := http.Header{"X-Test-User": []string{strconv.Itoa(userID)}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	return conn, err
}

func waitForMembers(t *testing.T, registry *Registry, conversationID, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(registry.Members(conversationID)) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %d never reached %d members", conversationID, want)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame, got: %s", raw)
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestBroadcastReachesAllMembersIncludingSender(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addUser(2, "bob")
	store.addConversation(1, 1, 2)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	bob := dial(t, srv, 1, 2)
	waitForMembers(t, registry, 1, 2)

	sendFrame(t, alice, map[string]interface{}{"content": "hello", "sender_id": 1})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		require.Equal(t, "message", env.Type)
		require.Equal(t, "hello", env.Message.Content)
		require.Equal(t, KindText, env.Message.MessageType, "type defaults to text")
		require.Equal(t, 1, env.Message.SenderID)
		require.Equal(t, "alice", env.Message.SenderUsername)
		_, err := time.Parse(time.RFC3339, env.Message.CreatedAt)
		require.NoError(t, err)
	}

	require.Equal(t, 1, store.messageCount())
	require.Equal(t, 1, store.touchedCount())
}

func TestUnknownSenderIsDroppedSilently(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addConversation(1, 1)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"content": "hi", "sender_id": 999})

	expectSilence(t, alice)
	require.Zero(t, store.messageCount())
}

func TestMalformedFrameIsDroppedSilently(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addConversation(1, 1)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json at all")))

	expectSilence(t, alice)
	require.Zero(t, store.messageCount())
}

func TestFrameWithoutSenderIsDropped(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addConversation(1, 1)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"content": "anonymous?"})

	expectSilence(t, alice)
	require.Zero(t, store.messageCount())
}

// The socket path does not enforce the REST rule that image messages carry
// an attachment. The frame persists and broadcasts anyway.
func TestImageKindWithoutAttachmentStillBroadcasts(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addConversation(1, 1)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"type": "image", "sender_id": 1})

	env := readEnvelope(t, alice)
	require.Equal(t, KindImage, env.Message.MessageType)
	require.Empty(t, env.Message.Content)
	require.Equal(t, 1, store.messageCount())
}

func TestPersistenceFailureMeansNoBroadcast(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addConversation(1, 1)
	store.createErr = fmt.Errorf("store unavailable")
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"content": "hi", "sender_id": 1})

	expectSilence(t, alice)
	require.Zero(t, store.messageCount())
}

func TestTouchFailureDoesNotBlockDelivery(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addConversation(1, 1)
	store.touchErr = fmt.Errorf("touch failed")
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"content": "hi", "sender_id": 1})

	env := readEnvelope(t, alice)
	require.Equal(t, "hi", env.Message.Content)
	require.Equal(t, 1, store.messageCount())
}

func TestDisconnectedMemberStopsReceiving(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addUser(2, "bob")
	store.addConversation(1, 1, 2)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	bob := dial(t, srv, 1, 2)
	waitForMembers(t, registry, 1, 2)

	bob.Close()
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"content": "after you left", "sender_id": 1})

	env := readEnvelope(t, alice)
	require.Equal(t, "after you left", env.Message.Content)
	require.Equal(t, 1, store.messageCount())
}

func TestLateJoinerGetsNoReplay(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addUser(2, "bob")
	store.addConversation(1, 1, 2)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	alice := dial(t, srv, 1, 1)
	waitForMembers(t, registry, 1, 1)

	sendFrame(t, alice, map[string]interface{}{"content": "before bob", "sender_id": 1})
	require.Equal(t, "before bob", readEnvelope(t, alice).Message.Content)

	bob := dial(t, srv, 1, 2)
	waitForMembers(t, registry, 1, 2)

	// Bob's first delivery must be the message sent after he joined, not a
	// replay of the earlier one.
	sendFrame(t, alice, map[string]interface{}{"content": "now you see me", "sender_id": 1})
	require.Equal(t, "now you see me", readEnvelope(t, bob).Message.Content)
	require.Equal(t, "now you see me", readEnvelope(t, alice).Message.Content)
}

func TestConnectRejectedForUnknownConversation(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	_, err := tryDial(srv, 42, 1)
	require.Error(t, err)
	require.Empty(t, registry.Members(42))
}

func TestConnectRejectedForNonParticipant(t *testing.T) {
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addUser(3, "mallory")
	store.addConversation(1, 1)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	_, err := tryDial(srv, 1, 3)
	require.Error(t, err)
	require.Empty(t, registry.Members(1))
}

// Three members firing 100 messages between them concurrently: all 100
// persist and every member sees every message exactly once.
func TestConcurrentSendersNoLossNoDuplicates(t *testing.T) {
	const total = 100

	store := newFakeStore()
	store.addUser(1, "alice")
	store.addUser(2, "bob")
	store.addUser(3, "carol")
	store.addConversation(1, 1, 2, 3)
	registry := NewRegistry()
	srv := newChatServer(t, registry, store)

	conns := []*websocket.Conn{
		dial(t, srv, 1, 1),
		dial(t, srv, 1, 2),
		dial(t, srv, 1, 3),
	}
	waitForMembers(t, registry, 1, 3)

	counts := make([]map[int]int, len(conns))
	var readers sync.WaitGroup
	for i, conn := range conns {
		counts[i] = make(map[int]int)
		readers.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer readers.Done()
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			for len(counts[i]) < total {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var env Envelope
				if json.Unmarshal(raw, &env) != nil {
					continue
				}
				counts[i][env.Message.ID]++
			}
		}(i, conn)
	}

	var senders sync.WaitGroup
	share := total / len(conns)
	for i, conn := range conns {
		n := share
		if i == len(conns)-1 {
			n = total - share*(len(conns)-1)
		}
		senders.Add(1)
		go func(conn *websocket.Conn, senderID, n int) {
			defer senders.Done()
			for j := 0; j < n; j++ {
				frame, _ := json.Marshal(InboundFrame{
					Type:     KindText,
					Content:  fmt.Sprintf("msg %d from %d", j, senderID),
					SenderID: senderID,
				})
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}(conn, i+1, n)
	}

	senders.Wait()
	readers.Wait()

	require.Equal(t, total, store.messageCount())
	for i, seen := range counts {
		require.Len(t, seen, total, "conn %d missed messages", i)
		for id, n := range seen {
			require.Equal(t, 1, n, "conn %d saw message %d more than once", i, id)
		}
	}
}
