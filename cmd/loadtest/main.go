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

	"tribechat/internal/chat"
	"tribechat/internal/chatclient"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // ⚠️ Start small. Each pair is two users hammering one tribe.
	MsgCount  = 20 // Messages per user
)

type authResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

func main() {
	log.Printf("🔥 STARTING SOAK TEST: %d users, %d messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ SOAK TEST COMPLETE")
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

	tribeID := createTribe(authA.Token, fmt.Sprintf("loadtest-%d", pairID))
	if tribeID == 0 {
		return
	}
	if !joinTribe(authB.Token, tribeID) {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go runMember(&wsWg, authA, tribeID)
	go runMember(&wsWg, authB, tribeID)
	wsWg.Wait()
}

// runMember is one live participant: fetch history, join the room, send
// messages via REST and forward each persisted record over the socket, and
// reconcile everything that comes back.
func runMember(wg *sync.WaitGroup, auth *authResponse, tribeID int) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, auth.Token), nil)
	if err != nil {
		log.Printf("❌ WS connect fail [%s]: %v", auth.Username, err)
		return
	}
	defer conn.Close()

	rec := chatclient.NewReconciler()

	// History before joining so the merge has something to dedup against.
	history := fetchHistory(auth.Token, tribeID)
	rec.LoadHistory(history)

	if err := conn.WriteJSON(chat.Envelope{Type: chat.EventJoinRoom, TribeID: tribeID}); err != nil {
		log.Printf("❌ join_room fail [%s]: %v", auth.Username, err)
		return
	}

	// Reader: feed every broadcast through the reconciler.
	done := make(chan struct{})
	received := 0
	go func() {
		defer close(done)
		for {
			var env chat.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			rec.HandleEvent(env)
			received++
		}
	}()

	for i := 0; i < MsgCount; i++ {
		content := fmt.Sprintf("soak msg %d from @%s", i, auth.Username)
		msg := sendMessage(auth.Token, tribeID, content)
		if msg == nil {
			break
		}
		// Optimistic merge of our own REST response; the broadcast echo of
		// the same id must be discarded by the reconciler.
		rec.Merge(*msg)

		err := conn.WriteJSON(chat.Envelope{
			Type:    chat.EventPublishMessage,
			TribeID: tribeID,
			Message: msg,
		})
		if err != nil {
			log.Printf("❌ publish fail [%s]: %v", auth.Username, err)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Drain for a moment, then verify the view has no duplicate ids.
	time.Sleep(2 * time.Second)
	conn.Close()
	<-done

	msgs := rec.Messages()
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID.String()] {
			log.Printf("❌ DUPLICATE id in view [%s]: %s", auth.Username, m.ID)
			return
		}
		seen[m.ID.String()] = true
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			log.Printf("❌ view out of order [%s]", auth.Username)
			return
		}
	}
	log.Printf("✅ %s: %d events received, %d messages in view, no dupes", auth.Username, received, len(msgs))
}

// authenticate registers (ignoring already-exists) and logs in.
func authenticate(username, password string) *authResponse {
	postJSON("/register", "", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", "", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()

	var data authResponse
	json.NewDecoder(resp.Body).Decode(&data)
	if data.Token == "" {
		return nil
	}
	data.Username = username
	return &data
}

func createTribe(token, name string) int {
	resp, err := postJSON("/api/tribes", token, map[string]string{"name": name})
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Printf("❌ Create tribe failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data struct {
		Tribe struct {
			ID int `json:"id"`
		} `json:"tribe"`
	}
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Tribe.ID
}

func joinTribe(token string, tribeID int) bool {
	resp, err := postJSON(fmt.Sprintf("/api/tribes/%d/join", tribeID), token, map[string]string{})
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Printf("❌ Join tribe failed: %v", err)
		return false
	}
	resp.Body.Close()
	return true
}

func sendMessage(token string, tribeID int, content string) *chat.Message {
	resp, err := postJSON(fmt.Sprintf("/api/tribes/%d/messages", tribeID), token,
		map[string]string{"content": content})
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Printf("❌ Send failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	var data struct {
		Message chat.Message `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&data)
	return &data.Message
}

func fetchHistory(token string, tribeID int) []chat.Message {
	req, _ := http.NewRequest("GET", fmt.Sprintf("%s/api/tribes/%d/messages", BaseURL, tribeID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var data struct {
		Messages []chat.Message `json:"messages"`
	}
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Messages
}

func postJSON(endpoint, token string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	req, err := http.NewRequest("POST", BaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
