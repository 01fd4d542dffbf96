package playback

import (
	"log/slog"

	"github.com/loqalabs/aira-core/internal/audio"
)

// RecordingOutput tees every scheduled buffer into a WAV recorder before
// passing it to the wrapped output.
type RecordingOutput struct {
	Output
	rec *audio.Recorder
	log *slog.Logger
}

func NewRecordingOutput(out Output, rec *audio.Recorder, log *slog.Logger) *RecordingOutput {
	return &RecordingOutput{Output: out, rec: rec, log: log.With(slog.String("component", "playback_recorder"))}
}

func (r *RecordingOutput) Schedule(buf audio.Buffer, at float64) {
	if err := r.rec.WriteFloat(buf.Samples); err != nil {
		r.log.Warn("failed to record playback", slog.String("error", err.Error()))
	}
	r.Output.Schedule(buf, at)
}
