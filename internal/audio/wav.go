package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const wavFormatMulaw = 7

// EncodeMulawWAV wraps raw mono mu-law bytes in a WAV container.
func EncodeMulawWAV(mulaw []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMulawWAV(&buf, mulaw, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMulawWAV writes mono mu-law audio as a WAVE_FORMAT_MULAW stream.
// Non-PCM formats carry an 18-byte fmt chunk and a fact chunk.
func WriteMulawWAV(out io.Writer, mulaw []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	dataSize := uint32(len(mulaw))
	w := bufio.NewWriter(out)
	ew := &errWriter{w: w}

	ew.str("RIFF")
	ew.le(uint32(4 + (8 + 18) + (8 + 4) + 8 + dataSize))
	ew.str("WAVE")

	ew.str("fmt ")
	ew.le(uint32(18))
	// format, channels, sample rate, byte rate, block align, bits, extension size
	ew.le(uint16(wavFormatMulaw))
	ew.le(uint16(1))
	ew.le(uint32(sampleRate))
	ew.le(uint32(sampleRate))
	ew.le(uint16(1))
	ew.le(uint16(8))
	ew.le(uint16(0))

	ew.str("fact")
	ew.le(uint32(4))
	ew.le(dataSize)

	ew.str("data")
	ew.le(dataSize)
	ew.bytes(mulaw)
	if ew.err != nil {
		return ew.err
	}
	return w.Flush()
}

// DecodeMulawWAV returns the data chunk and sample rate of a mono mu-law
// WAV file.
func DecodeMulawWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		samples     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			haveFmt = true
		case "data":
			samples = append(samples[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	case audioFormat != wavFormatMulaw:
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	case channels != 1:
		return nil, 0, fmt.Errorf("unsupported wav channels=%d", channels)
	case len(samples) == 0:
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return samples, sampleRate, nil
}

// errWriter keeps the first write error so header writing reads linearly.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) str(s string) {
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *errWriter) le(v any) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *errWriter) bytes(p []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(p)
	}
}
