package audio

import "testing"

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768, 5000}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(samples)*2 {
		t.Errorf("encoded %d bytes, want %d", len(data), 44+len(samples)*2)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	t.Run("empty samples", func(t *testing.T) {
		if _, err := EncodeWAV(nil, 16000); err == nil {
			t.Error("expected error for empty samples")
		}
	})

	t.Run("bad sample rate", func(t *testing.T) {
		if _, err := EncodeWAV([]int16{1}, 0); err == nil {
			t.Error("expected error for zero sample rate")
		}
	})
}

func TestDecodeWAVErrors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		if _, _, err := DecodeWAV([]byte{1, 2, 3}); err == nil {
			t.Error("expected error for truncated data")
		}
	})

	t.Run("not RIFF", func(t *testing.T) {
		data, err := EncodeWAV([]int16{1, 2}, 8000)
		if err != nil {
			t.Fatalf("EncodeWAV failed: %v", err)
		}
		data[0] = 'X'
		if _, _, err := DecodeWAV(data); err == nil {
			t.Error("expected error for corrupted RIFF marker")
		}
	})
}
