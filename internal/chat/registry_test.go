package chat

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// bareSession builds a session that is not backed by a socket. Send still
// enqueues into the buffer, which is all the registry tests need.
func bareSession(conversationID, buffer int) *Session {
	return &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		send:           make(chan []byte, buffer),
		closed:         make(chan struct{}),
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := bareSession(1, 8)

	r.Join(1, s)
	r.Join(1, s)

	require.Len(t, r.Members(1), 1)
}

func TestLeaveUnknownSessionIsNoOp(t *testing.T) {
	r := NewRegistry()
	s := bareSession(1, 8)

	r.Leave(1, s)
	r.Leave(42, s)

	require.Empty(t, r.Members(1))
}

func TestLeaveDropsEmptyRoom(t *testing.T) {
	r := NewRegistry()
	s := bareSession(1, 8)

	r.Join(1, s)
	r.Leave(1, s)

	require.Empty(t, r.Members(1))
	r.mu.RLock()
	defer r.mu.RUnlock()
	require.NotContains(t, r.rooms, 1)
}

func TestMembersIsolatedPerConversation(t *testing.T) {
	r := NewRegistry()
	a := bareSession(1, 8)
	b := bareSession(2, 8)

	r.Join(1, a)
	r.Join(2, b)

	require.Equal(t, []*Session{a}, r.Members(1))
	require.Equal(t, []*Session{b}, r.Members(2))
}

func TestBroadcastDeliversToEveryMember(t *testing.T) {
	r := NewRegistry()
	a := bareSession(1, 8)
	b := bareSession(1, 8)
	r.Join(1, a)
	r.Join(1, b)

	delivered := r.Broadcast(1, []byte("hi"))

	require.Equal(t, 2, delivered)
	require.Equal(t, []byte("hi"), <-a.send)
	require.Equal(t, []byte("hi"), <-b.send)
}

func TestBroadcastIsolatesFailedMember(t *testing.T) {
	r := NewRegistry()
	healthy := bareSession(1, 8)
	// Zero-capacity buffer: the first send fails immediately, standing in
	// for a slow or dead reader.
	stuck := bareSession(1, 0)
	r.Join(1, healthy)
	r.Join(1, stuck)

	delivered := r.Broadcast(1, []byte("hi"))

	require.Equal(t, 1, delivered)
	require.Equal(t, []byte("hi"), <-healthy.send)
	select {
	case <-stuck.closed:
	default:
		t.Fatal("failed member was not closed")
	}
}

func TestBroadcastAfterLeaveSkipsSession(t *testing.T) {
	r := NewRegistry()
	a := bareSession(1, 8)
	b := bareSession(1, 8)
	r.Join(1, a)
	r.Join(1, b)
	r.Leave(1, b)

	require.Equal(t, 1, r.Broadcast(1, []byte("hi")))
	require.Len(t, b.send, 0)
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	r := NewRegistry()
	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				s := bareSession(1, 1)
				r.Join(1, s)
				r.Broadcast(1, []byte("x"))
				r.Members(1)
				r.Leave(1, s)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, r.Members(1))
}
