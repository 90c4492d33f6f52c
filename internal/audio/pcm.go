package audio

import "encoding/binary"

// FloatToPCM16 converts float samples in [-1,1] to 16-bit signed integer
// range. Out-of-range samples are clamped rather than wrapped.
func FloatToPCM16(frame []float32) []int16 {
	out := make([]int16, len(frame))
	for i, s := range frame {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// PCM16ToBytes encodes samples as 16-bit little-endian PCM, the wire format
// expected by the streaming speech endpoint.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToFloat converts 16-bit samples back to float samples in [-1,1).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// BytesToPCM16 decodes 16-bit little-endian PCM bytes into samples. A
// trailing odd byte is ignored.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// IsSilent reports whether every sample in the frame is exactly zero.
// Entirely silent frames are skipped before transmission to avoid wasted
// bandwidth.
func IsSilent(samples []int16) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
