// Package codec encodes captured PCM frames into the outbound wire payload.
// The backend treats chunks as opaque binary, so the codec choice is a
// deployment parameter.
package codec

import (
	"encoding/binary"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// Encoder turns raw PCM samples into a transmittable payload.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	Close() error
}

// New returns the encoder named by kind ("pcm" or "opus").
func New(kind string, sampleRateHz int) (Encoder, error) {
	switch kind {
	case "pcm":
		return &PCMEncoder{}, nil
	case "opus":
		return NewOpusEncoder(sampleRateHz)
	default:
		return nil, fmt.Errorf("codec: unknown encoder %q", kind)
	}
}

// PCMEncoder passes samples through as little-endian 16-bit PCM.
type PCMEncoder struct{}

// Encode serializes samples without compression.
func (e *PCMEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// Close is a no-op.
func (e *PCMEncoder) Close() error { return nil }

// OpusEncoder compresses mono PCM with libopus tuned for voice. Chunks are
// split into 20ms opus frames, each written with a 2-byte big-endian length
// prefix so the receiver can walk the packets.
type OpusEncoder struct {
	enc       *opus.Encoder
	frameSize int
	buf       []byte
}

// NewOpusEncoder creates a mono VoIP-profile opus encoder.
func NewOpusEncoder(sampleRateHz int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRateHz, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: creating opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:       enc,
		frameSize: sampleRateHz / 50, // 20ms, a valid opus frame duration
		buf:       make([]byte, 4000),
	}, nil
}

// Encode compresses a chunk of samples into length-prefixed opus packets.
// A trailing partial frame is zero-padded to the frame boundary.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	var out []byte
	for off := 0; off < len(pcm); off += e.frameSize {
		frame := pcm[off:min(off+e.frameSize, len(pcm))]
		if len(frame) < e.frameSize {
			padded := make([]int16, e.frameSize)
			copy(padded, frame)
			frame = padded
		}
		n, err := e.enc.Encode(frame, e.buf)
		if err != nil {
			return nil, fmt.Errorf("codec: opus encode: %w", err)
		}
		out = append(out, byte(n>>8), byte(n))
		out = append(out, e.buf[:n]...)
	}
	return out, nil
}

// Close is a no-op; the opus encoder has no explicit teardown.
func (e *OpusEncoder) Close() error { return nil }
