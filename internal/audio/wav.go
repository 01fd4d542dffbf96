package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder appends mono 16-bit PCM to a WAV file. It is safe for concurrent
// use; the header is finalized on Close.
type Recorder struct {
	mu         sync.Mutex
	file       *os.File
	enc        *wav.Encoder
	sampleRate int
	written    int
}

func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{
		file:       file,
		enc:        wav.NewEncoder(file, sampleRate, 16, 1, 1),
		sampleRate: sampleRate,
	}, nil
}

// WritePCM16 appends samples to the recording.
func (r *Recorder) WritePCM16(samples []int16) error {
	if r == nil || len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: r.sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return fmt.Errorf("recorder closed")
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	r.written += len(samples)
	return nil
}

// WriteFloat appends normalized samples, converting them to PCM16 first.
func (r *Recorder) WriteFloat(samples []float32) error {
	return r.WritePCM16(FloatToPCM16(samples))
}

// Samples reports how many samples have been written so far.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	err := r.enc.Close()
	r.enc = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
