package chat

import "sync"

// Registry maps conversation ids to the sessions currently subscribed to
// them. It is the only shared mutable state in the chat core, owned by the
// server and passed by reference to every handler and session.
//
// Join/Leave/Members are safe to call concurrently. Members returns a
// snapshot: a session removed before the snapshot never sees the message, a
// session added after it may miss that one message.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int]map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[int]map[*Session]struct{}),
	}
}

// Join adds the session to the conversation's room. Idempotent. Membership
// is purely structural; participant validation happens once per connection
// at upgrade time.
func (r *Registry) Join(conversationID int, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[*Session]struct{})
		r.rooms[conversationID] = room
	}
	room[s] = struct{}{}
}

// Leave removes the session. No-op if it was never joined. Empty rooms are
// dropped so the map doesn't grow with dead conversation ids.
func (r *Registry) Leave(conversationID int, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
}

// Members returns a snapshot of the sessions in the conversation's room.
func (r *Registry) Members(conversationID int) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	if len(room) == 0 {
		return nil
	}
	members := make([]*Session, 0, len(room))
	for s := range room {
		members = append(members, s)
	}
	return members
}

// Broadcast delivers payload to every member of the conversation's room,
// including the sender's own session. Each delivery is independent: a
// member that can't keep up is closed and the rest still get the message.
// Returns the number of sessions the payload was queued for.
func (r *Registry) Broadcast(conversationID int, payload []byte) int {
	delivered := 0
	for _, s := range r.Members(conversationID) {
		if err := s.Send(payload); err != nil {
			s.Close()
			continue
		}
		delivered++
	}
	return delivered
}
