// Command devbackend is a stand-in recognition backend for local
// development. It accepts the voicepilot websocket protocol, fabricates
// interim and final transcripts from received audio volume, and answers
// with canned replies.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mylee04/voicepilot/internal/observability/logging"
)

var (
	addr          = flag.String("addr", ":8000", "listen address")
	path          = flag.String("path", "/ws/speech", "websocket path")
	chunksPerTurn = flag.Int("chunks-per-turn", 12, "audio chunks consumed before emitting a transcript")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

var scriptedTurns = []struct {
	transcript string
	reply      string
}{
	{"open the dashboard", "Opening the dashboard now."},
	{"check my calendar", "You have two meetings this afternoon."},
	{"send the weekly report", "The weekly report has been sent."},
	{"what is the build status", "All pipelines are green."},
}

type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func main() {
	flag.Parse()
	logging.Init(logging.Config{Level: "debug", Format: "console"})

	http.HandleFunc(*path, serve)
	log.Info().Str("addr", *addr).Str("path", *path).Msg("Dev backend listening")
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Dev backend failed")
	}
}

func serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Upgrade failed")
		return
	}
	defer conn.Close()
	log.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	var (
		sessionID string
		chunks    int
		turn      int
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected")
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			chunks++
			if chunks >= *chunksPerTurn {
				chunks = 0
				emitTurn(conn, sessionID, scriptedTurns[turn%len(scriptedTurns)])
				turn++
			}
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				send(conn, map[string]any{"error": "undecodable message"})
				continue
			}
			if msg.SessionID != "" {
				sessionID = msg.SessionID
			}
			switch msg.Type {
			case "keep_alive":
				send(conn, map[string]any{"type": "keep_alive_ack"})
			case "stop_recording":
				log.Info().Str("reason", msg.Reason).Msg("Client stopped recording")
				sendReady(conn)
			default:
				send(conn, map[string]any{"error": "unknown message type"})
				sendReady(conn)
			}
		}
	}
}

func emitTurn(conn *websocket.Conn, sessionID string, turn struct{ transcript, reply string }) {
	words := strings.Fields(turn.transcript)
	partial := ""
	for _, word := range words[:len(words)-1] {
		if partial != "" {
			partial += " "
		}
		partial += word
		send(conn, map[string]any{
			"transcript": partial,
			"is_final":   false,
			"confidence": 0.4,
			"session_id": sessionID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
		time.Sleep(50 * time.Millisecond)
	}

	send(conn, map[string]any{
		"transcript":  turn.transcript,
		"is_final":    true,
		"confidence":  0.93,
		"ai_response": turn.reply,
		"session_id":  sessionID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	sendReady(conn)
}

func sendReady(conn *websocket.Conn) {
	send(conn, map[string]any{
		"type":      "ready_for_next",
		"status":    "completed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func send(conn *websocket.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Debug().Err(err).Msg("Send failed")
	}
}
