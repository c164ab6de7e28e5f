// Command loadtest drives pairs of users against two server instances and
// checks that every message crosses the relay exactly once.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"go-chat-relay/internal/logger"
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type ChatResponse struct {
	ID string `json:"id"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type stats struct {
	sent      atomic.Int64
	received  atomic.Int64
	failures  atomic.Int64
	duplicate atomic.Int64
}

var log *slog.Logger

func main() {
	sender := flag.String("a", "http://localhost:8080", "instance the senders connect to")
	receiver := flag.String("b", "http://localhost:8081", "instance the receivers connect to")
	pairs := flag.Int("pairs", 50, "number of sender/receiver pairs")
	msgCount := flag.Int("messages", 20, "messages per sender")
	settle := flag.Duration("settle", 2*time.Second, "time to wait for in-flight deliveries")
	flag.Parse()

	log = logger.New("info", "text")
	log.Info("🔥 STARTING STRESS TEST", "users", *pairs*2, "messages_per_user", *msgCount)

	st := &stats{}
	var wg sync.WaitGroup
	// User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID, *sender, *receiver, *msgCount, *settle, st)
		}(i)
	}
	wg.Wait()

	log.Info("✅ LOAD TEST COMPLETE",
		"sent", st.sent.Load(),
		"received", st.received.Load(),
		"duplicates", st.duplicate.Load(),
		"failures", st.failures.Load(),
	)
	if st.sent.Load() != st.received.Load() || st.duplicate.Load() > 0 {
		os.Exit(1)
	}
}

func runPair(pairID int, senderURL, receiverURL string, msgCount int, settle time.Duration, st *stats) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	a, err := authenticate(senderURL, userA, pass)
	if err != nil {
		st.failures.Add(1)
		log.Error("❌ Login Failed", "user", userA, "error", err)
		return
	}
	b, err := authenticate(receiverURL, userB, pass)
	if err != nil {
		st.failures.Add(1)
		log.Error("❌ Login Failed", "user", userB, "error", err)
		return
	}

	chatID, err := createDirectChat(senderURL, a.Token, b.ID)
	if err != nil {
		st.failures.Add(1)
		log.Error("❌ Create Chat Failed", "pair", pairID, "error", err)
		return
	}

	conn, err := connect(receiverURL, b.Token, chatID)
	if err != nil {
		st.failures.Add(1)
		log.Error("❌ WS Connect Fail", "user", userB, "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		listen(conn, st)
	}()

	for i := 0; i < msgCount; i++ {
		content := fmt.Sprintf("LoadTest Msg %d from %s", i, userA)
		if err := sendMessage(senderURL, a.Token, chatID, content); err != nil {
			st.failures.Add(1)
			log.Error("❌ Send Fail", "user", userA, "error", err)
			break
		}
		st.sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(settle)
	conn.Close()
	<-done
}

// listen counts messageReceived frames and flags duplicate message ids.
func listen(conn *websocket.Conn, st *stats) {
	seen := map[string]bool{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if json.Unmarshal(data, &f) != nil || f.Event != "messageReceived" {
			continue
		}
		var msg struct {
			ID string `json:"id"`
		}
		json.Unmarshal(f.Data, &msg)
		if seen[msg.ID] {
			st.duplicate.Add(1)
			continue
		}
		seen[msg.ID] = true
		st.received.Add(1)
	}
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(baseURL, username, password string) (*AuthResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON(baseURL+"/register", "", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON(baseURL+"/login", "", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login returned %s", resp.Status)
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func createDirectChat(baseURL, token string, receiverID int) (string, error) {
	resp, err := postJSON(fmt.Sprintf("%s/api/chats/direct/%d", baseURL, receiverID), token, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create chat returned %s", resp.Status)
	}

	var data ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	return data.ID, nil
}

func connect(baseURL, token, chatID string) (*websocket.Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	join, _ := json.Marshal(chatID)
	if err := conn.WriteJSON(frame{Event: "joinChat", Data: join}); err != nil {
		conn.Close()
		return nil, err
	}
	// Give the join a moment to land before the first message.
	time.Sleep(100 * time.Millisecond)
	return conn, nil
}

func sendMessage(baseURL, token, chatID, content string) error {
	resp, err := postJSON(baseURL+"/api/messages/"+chatID, token, map[string]string{"content": content})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("send returned %s", resp.Status)
	}
	return nil
}

func postJSON(endpoint, token string, data interface{}) (*http.Response, error) {
	var body bytes.Buffer
	if data != nil {
		json.NewEncoder(&body).Encode(data)
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
