package audio

import (
	"encoding/binary"
	"math"
)

// FloatToPCM16 clamps each sample to [-1, 1] and scales it onto the signed
// 16-bit range. Negative values use the full 0x8000 magnitude.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		if clamped < 0 {
			out[i] = int16(clamped * 0x8000)
		} else {
			out[i] = int16(clamped * 0x7FFF)
		}
	}
	return out
}

// PCM16ToFloat normalizes signed 16-bit samples to [-1, 1).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 0x8000
	}
	return out
}

// EncodePCM16LE serializes samples as raw little-endian bytes with no header.
func EncodePCM16LE(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16LE reads raw little-endian 16-bit samples. A trailing odd byte
// is ignored.
func DecodePCM16LE(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := range n {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// DecodeFloat32LE reads raw little-endian IEEE-754 float samples, the native
// format produced by capture devices.
func DecodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := range n {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
