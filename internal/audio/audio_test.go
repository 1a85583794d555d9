package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFramerCarriesRemainder(t *testing.T) {
	f := NewFramer(160)

	if frames := f.Push(make([]byte, 100)); len(frames) != 0 {
		t.Fatalf("Push(100) frames = %d, want 0", len(frames))
	}
	frames := f.Push(make([]byte, 300))
	if len(frames) != 2 {
		t.Fatalf("Push(300) frames = %d, want 2", len(frames))
	}
	for _, fr := range frames {
		if len(fr) != 160 {
			t.Fatalf("frame len = %d, want 160", len(fr))
		}
	}
	if f.Pending() != 80 {
		t.Fatalf("Pending() = %d, want 80", f.Pending())
	}
	if tail := f.Flush(); len(tail) != 80 {
		t.Fatalf("Flush() len = %d, want 80", len(tail))
	}
	if f.Flush() != nil {
		t.Fatal("second Flush() should be empty")
	}
}

func TestFramerPreservesByteOrder(t *testing.T) {
	f := NewFramer(4)
	var got []byte
	for _, chunk := range [][]byte{{1, 2, 3}, {4, 5}, {6, 7, 8, 9, 10}} {
		for _, fr := range f.Push(chunk) {
			got = append(got, fr...)
		}
	}
	got = append(got, f.Flush()...)
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}) {
		t.Fatalf("reassembled = %v", got)
	}
}

func TestFramerFramesDoNotAliasInput(t *testing.T) {
	f := NewFramer(2)
	in := []byte{1, 2}
	frames := f.Push(in)
	in[0] = 9
	if frames[0][0] != 1 {
		t.Fatal("frame aliases input slice")
	}
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(0)
	if f.Size() != DefaultFrameBytes {
		t.Fatalf("Size() = %d, want %d", f.Size(), DefaultFrameBytes)
	}
	f.Push([]byte{1, 2, 3})
	f.Reset()
	if f.Pending() != 0 || f.Flush() != nil {
		t.Fatal("Reset() kept pending bytes")
	}
}

func TestEncodeMulawWAVHeader(t *testing.T) {
	payload := bytes.Repeat([]byte{MulawSilence}, 320)
	wav, err := EncodeMulawWAV(payload, 0)
	if err != nil {
		t.Fatalf("EncodeMulawWAV() error = %v", err)
	}
	if len(wav) != 58+len(payload) {
		t.Fatalf("len = %d, want %d", len(wav), 58+len(payload))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[12:16]) != "fmt " {
		t.Fatalf("bad header: %q", wav[:16])
	}
	if size := binary.LittleEndian.Uint32(wav[4:8]); int(size) != len(wav)-8 {
		t.Fatalf("RIFF size = %d, want %d", size, len(wav)-8)
	}
	if format := binary.LittleEndian.Uint16(wav[20:22]); format != wavFormatMulaw {
		t.Fatalf("format = %d, want %d", format, wavFormatMulaw)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", rate)
	}
	if string(wav[38:42]) != "fact" || string(wav[50:54]) != "data" {
		t.Fatalf("chunk ids = %q %q", wav[38:42], wav[50:54])
	}
	if n := binary.LittleEndian.Uint32(wav[54:58]); int(n) != len(payload) {
		t.Fatalf("data size = %d", n)
	}
}

func TestDecodeMulawWAVRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x10, 0xFF, 0x7F, 0x90}
	wav, err := EncodeMulawWAV(payload, 8000)
	if err != nil {
		t.Fatalf("EncodeMulawWAV() error = %v", err)
	}
	got, rate, err := DecodeMulawWAV(wav)
	if err != nil {
		t.Fatalf("DecodeMulawWAV() error = %v", err)
	}
	if rate != 8000 || !bytes.Equal(got, payload) {
		t.Fatalf("decoded rate=%d payload=%v", rate, got)
	}
}

func TestDecodeMulawWAVRejectsPCM(t *testing.T) {
	wav, _ := EncodeMulawWAV([]byte{1, 2}, 8000)
	binary.LittleEndian.PutUint16(wav[20:22], 1)
	if _, _, err := DecodeMulawWAV(wav); err == nil {
		t.Fatal("DecodeMulawWAV() accepted a PCM header")
	}
	if _, _, err := DecodeMulawWAV([]byte("RIFF")); err == nil {
		t.Fatal("DecodeMulawWAV() accepted a truncated file")
	}
}
