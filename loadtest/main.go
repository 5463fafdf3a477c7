// Load generator: registers N users, connects them over websocket,
// authenticates in-band, joins a shared room, and floods messages.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	wsURL    = flag.String("ws", "ws://localhost:8080/ws", "websocket URL")
	users    = flag.Int("users", 100, "concurrent users")
	msgCount = flag.Int("messages", 20, "messages per user")
	roomName = flag.String("room", "loadtest", "room to flood")
)

type loginResponse struct {
	Token string `json:"token"`
}

var sent, received atomic.Int64

func main() {
	flag.Parse()
	log.Printf("starting: %d users, %d messages each", *users, *msgCount)

	var wg sync.WaitGroup
	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runUser(n)
		}(i)
	}
	wg.Wait()
	log.Printf("done: sent=%d received=%d", sent.Load(), received.Load())
}

func runUser(n int) {
	username := fmt.Sprintf("load_%d", n)
	token := authenticate(username, "password123!")
	if token == "" {
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", username, err)
		return
	}
	defer conn.Close()

	// Drain server frames so the write buffer never backs up.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	send := func(v any) bool {
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("send failed [%s]: %v", username, err)
			return false
		}
		return true
	}

	if !send(map[string]any{"type": "authenticate", "token": token}) {
		return
	}
	if !send(map[string]any{"type": "joinRoom", "room": *roomName}) {
		return
	}

	for i := 0; i < *msgCount; i++ {
		ok := send(map[string]any{
			"type":    "chatMessage",
			"room":    *roomName,
			"content": fmt.Sprintf("load message %d from %s", i, username),
		})
		if !ok {
			return
		}
		sent.Add(1)
		time.Sleep(10 * time.Millisecond)
	}
}

// authenticate registers (ignoring duplicates) and logs in.
func authenticate(username, password string) string {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON("/api/auth/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/api/auth/login", creds)
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return ""
	}
	defer resp.Body.Close()

	var data loginResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	body, _ := json.Marshal(data)
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(body))
}
