package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 500 // ⚠️ Start small (50 pairs = 100 users). Database might choke on 1000 immediately.
	MsgCount  = 20  // Messages per user
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type ConversationResponse struct {
	Conversation struct {
		ID int `json:"id"`
	} `json:"conversation"`
	Existing bool `json:"existing"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	authA := authenticate(userA, pass)
	authB := authenticate(userB, pass)
	if authA == nil || authB == nil {
		return
	}

	// User A starts a conversation with User B
	convID := createConversation(authA.Token, authB.ID)
	if convID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)

	go spamChat(&wsWg, authA, convID)
	go spamChat(&wsWg, authB, convID)

	wsWg.Wait()
}

// authenticate signs up (ignores failure if the user exists) and logs in.
func authenticate(username, password string) *AuthResponse {
	postJSON("/api/users/signup", map[string]string{
		"username":      username,
		"password":      password,
		"mobile_number": "",
		"captcha_token": "",
	})

	resp, err := postJSON("/api/users/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	if data.Token == "" {
		log.Printf("❌ Login returned no token [%s]", username)
		return nil
	}
	return &data
}

func createConversation(token string, targetID int) int {
	body, _ := json.Marshal(map[string]int{"user_id": targetID})
	req, _ := http.NewRequest("POST", BaseURL+"/api/conversations", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode >= 300 {
		log.Printf("❌ Create Chat Failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data ConversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Conversation.ID
}

func spamChat(wg *sync.WaitGroup, auth *AuthResponse, convID int) {
	defer wg.Done()

	url := fmt.Sprintf("%s?conversation_id=%d&token=%s", WSURL, convID, auth.Token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", auth.Username, err)
		return
	}
	defer conn.Close()

	// Drain broadcasts so the server-side send buffer never fills.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		frame := map[string]interface{}{
			"type":      "text",
			"content":   fmt.Sprintf("LoadTest Msg %d from %s", i, auth.Username),
			"sender_id": auth.ID,
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", auth.Username, err)
			break
		}
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", auth.Username, MsgCount)
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
