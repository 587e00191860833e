package capture

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	wave "github.com/zenwerk/go-wave"
)

// Archive writes captured frames to a wav file for offline inspection. The
// filesystem is abstracted so tests can archive into memory.
type Archive struct {
	mu     sync.Mutex
	file   afero.File
	writer *wave.Writer
	closed bool
}

// NewArchive creates a wav archive for one session under dir.
func NewArchive(fs afero.Fs, dir, sessionID string, sampleRateHz int) (*Archive, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	name := filepath.Join(dir, fmt.Sprintf("session-%s-%d.wav", sessionID, time.Now().Unix()))
	file, err := fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("creating archive file: %w", err)
	}

	writer, err := wave.NewWriter(wave.WriterParam{
		Out:           file,
		Channel:       1,
		SampleRate:    sampleRateHz,
		BitsPerSample: 16,
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("creating wav writer: %w", err)
	}

	return &Archive{file: file, writer: writer}, nil
}

// WriteFrame appends one frame of samples to the archive.
func (a *Archive) WriteFrame(frame []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	_, err := a.writer.WriteSample16(frame)
	return err
}

// Close finalizes the wav header and closes the file. Idempotent.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.writer.Close()
}
