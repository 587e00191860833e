// Command wavsender streams a WAV file to the recognition backend over the
// voicepilot wire protocol, pacing chunks like a live microphone and
// printing everything the backend sends back. Useful for exercising a
// backend without audio hardware.
package main

import (
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	backendURL := flag.String("backend", "ws://localhost:8000/ws/speech", "Backend websocket URL")
	chunkMs := flag.Int("chunk-ms", 250, "Chunk interval in milliseconds")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d", numChannels, sampleRate, bitsPerSample)
	if numChannels != 1 || bitsPerSample != 16 {
		log.Fatal("Expected 16-bit mono PCM")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*backendURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *backendURL, err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *backendURL)

	// Print backend traffic until the connection closes.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.Printf("<- %s", data)
		}
	}()

	// bytes/sec = sampleRate * 2 for 16-bit mono
	chunkBytes := int(sampleRate) * 2 * *chunkMs / 1000
	buf := make([]byte, chunkBytes)
	ticker := time.NewTicker(time.Duration(*chunkMs) * time.Millisecond)
	defer ticker.Stop()

	chunks := 0
	for range ticker.C {
		n, err := f.Read(buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				log.Fatalf("Failed to send chunk: %v", err)
			}
			chunks++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}
	log.Printf("Sent %d chunks", chunks)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_recording","reason":"end_of_file"}`))

	// Give the backend a moment to flush its last results.
	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
	}
}
