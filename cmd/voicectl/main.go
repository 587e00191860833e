// Command voicectl drives a running voicepilot through its control API:
// start and stop the session, print status and history, or tail the live
// event feed.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "http://localhost:8750", "voicepilot control API address")
	flag.Parse()

	cmd := flag.Arg(0)
	switch cmd {
	case "start":
		post(*addr + "/v1/session/start")
	case "stop":
		post(*addr + "/v1/session/stop")
	case "status":
		get(*addr + "/v1/session/status")
	case "history":
		get(*addr + "/v1/session/history")
	case "events":
		tail(*addr)
	default:
		fmt.Fprintln(os.Stderr, "usage: voicectl [-addr URL] start|stop|status|history|events")
		os.Exit(2)
	}
}

func post(url string) {
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	printResponse(resp)
}

func get(url string) {
	resp, err := http.Get(url)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s\n", resp.Status, body)
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func tail(addr string) {
	url := "ws" + strings.TrimPrefix(addr, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("connect to event feed: %v", err)
	}
	defer conn.Close()
	log.Printf("Tailing %s (ctrl-c to quit)", url)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("feed closed: %v", err)
		}
		fmt.Printf("%s\n", data)
	}
}
