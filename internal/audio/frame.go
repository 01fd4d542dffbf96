package audio

import "time"

// Frame is a block of signed 16-bit PCM samples. A frame is owned by the
// stage currently holding it; stages hand frames off and never share them.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration reports how long the frame plays at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	frames := len(f.Samples) / ch
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Buffer is decoded, normalized audio ready for output.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Seconds reports the playback length of the buffer.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
