// Command loadtest hammers a running server with websocket pairs.
// Tokens are minted locally from the shared JWT secret, so no account
// setup is needed: point it at the server, give it the secret, go.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-signal/internal/auth"
)

func main() {
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "websocket endpoint")
	secret := flag.String("secret", "", "JWT secret shared with the server")
	pairs := flag.Int("pairs", 250, "number of user pairs")
	msgs := flag.Int("msgs", 20, "messages per user")
	flag.Parse()

	if *secret == "" {
		log.Fatal("-secret is required")
	}
	verifier := auth.NewVerifier(*secret)

	log.Printf("starting load test: %d users, %d messages each", *pairs*2, *msgs)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(verifier, *wsURL, pairID, *msgs)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete in %s", time.Since(start))
}

// runPair connects two users into one conversation and has both spam
// messages at each other, plus one call invite/decline round-trip.
func runPair(verifier *auth.Verifier, wsURL string, pairID, msgs int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	convID := fmt.Sprintf("conv_%d", pairID)

	var wg sync.WaitGroup
	wg.Add(2)
	go spam(&wg, verifier, wsURL, userA, convID, msgs)
	go spam(&wg, verifier, wsURL, userB, convID, msgs)
	wg.Wait()
}

func spam(wg *sync.WaitGroup, verifier *auth.Verifier, wsURL, user, convID string, msgs int) {
	defer wg.Done()

	token, err := verifier.IssueToken(user, user, time.Hour)
	if err != nil {
		log.Printf("issue token [%s]: %v", user, err)
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", wsURL, token), nil)
	if err != nil {
		log.Printf("ws connect [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	// Drain inbound frames so the server never sees us as a slow consumer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(map[string]string{
		"type":            "viewing",
		"conversation_id": convID,
	}); err != nil {
		log.Printf("viewing [%s]: %v", user, err)
		return
	}

	for i := 0; i < msgs; i++ {
		err := conn.WriteJSON(map[string]string{
			"type":            "message",
			"conversation_id": convID,
			"content":         fmt.Sprintf("load test msg %d from %s", i, user),
		})
		if err != nil {
			log.Printf("send [%s]: %v", user, err)
			return
		}
		// Simulate real network pacing instead of a localhost burst.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("%s finished sending %d msgs", user, msgs)
}
