package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "github.com/payme-dheeraj/chat-app-backend/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	registry *Registry
	store    Store
}

func NewHandler(registry *Registry, store Store) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
	}
}

// ServeWs upgrades the connection and binds it to one conversation for its
// whole lifetime. The caller must be a participant; unlike frame handling,
// this check runs once per connection.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	member, err := h.store.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "you are not a participant in this conversation", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	session := NewSession(conversationID, h.registry, h.store, conn)
	h.registry.Join(conversationID, session)

	go session.WritePump()
	go session.ReadPump()
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(summaries)
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.UserID == userID {
		http.Error(w, "cannot start conversation with yourself", http.StatusBadRequest)
		return
	}
	if _, err := h.store.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conv, existing, err := h.store.StartConversation(r.Context(), userID, req.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !existing {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(struct {
		Conversation *Conversation `json:"conversation"`
		Existing     bool          `json:"existing"`
	}{conv, existing})
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, _, ok := h.authorizedConversation(w, r)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(conv)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conv, userID, ok := h.authorizedConversation(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessagesMarkRead(r.Context(), conv.ID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []Message{}
	}
	json.NewEncoder(w).Encode(messages)
}

// SendMessage is the REST send path. It validates per-kind required fields
// (stricter than the socket path), persists and touches the conversation,
// but deliberately does not broadcast: live sessions pick the message up on
// their next retrieval.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conv, userID, ok := h.authorizedConversation(w, r)
	if !ok {
		return
	}

	var req struct {
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
		Attachment  string `json:"attachment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MessageType == "" {
		req.MessageType = KindText
	}
	if !validKind(req.MessageType) {
		http.Error(w, "invalid message_type", http.StatusBadRequest)
		return
	}
	if req.MessageType == KindText && req.Content == "" {
		http.Error(w, "content is required for text messages", http.StatusBadRequest)
		return
	}
	if req.MessageType == KindImage && req.Attachment == "" {
		http.Error(w, "attachment is required for image messages", http.StatusBadRequest)
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), conv.ID, userID, req.MessageType, req.Content, req.Attachment)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.store.TouchConversation(r.Context(), conv.ID); err != nil {
		log.Printf("chat: touch conversation %d: %v", conv.ID, err)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// authorizedConversation resolves the {id} route param and enforces the
// participant check shared by the conversation-scoped REST endpoints.
func (h *Handler) authorizedConversation(w http.ResponseWriter, r *http.Request) (*Conversation, int, bool) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, 0, false
	}

	conversationID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return nil, 0, false
	}

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return nil, 0, false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, 0, false
	}

	member, err := h.store.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, 0, false
	}
	if !member {
		http.Error(w, "you are not a participant in this conversation", http.StatusForbidden)
		return nil, 0, false
	}
	return conv, userID, true
}
