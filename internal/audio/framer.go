// Package audio holds the small amount of audio plumbing the telephony path
// needs: fixed-size framing of mu-law streams and WAV wrapping.
package audio

const (
	// DefaultFrameBytes is 20 ms of 8 kHz mono mu-law.
	DefaultFrameBytes = 160
	// MulawSilence is the mu-law byte for a zero sample.
	MulawSilence byte = 0xFF
)

// Framer repacks an arbitrary byte stream into fixed-size frames. Bytes that
// do not fill a frame are carried over to the next Push and returned by Flush.
// A Framer is not safe for concurrent use.
type Framer struct {
	size    int
	pending []byte
}

func NewFramer(size int) *Framer {
	if size <= 0 {
		size = DefaultFrameBytes
	}
	return &Framer{size: size, pending: make([]byte, 0, size)}
}

// Size is the frame length in bytes.
func (f *Framer) Size() int { return f.size }

// Push appends p and returns every complete frame. Returned frames do not
// alias p or the framer's buffer.
func (f *Framer) Push(p []byte) [][]byte {
	if len(p) == 0 {
		return nil
	}
	var frames [][]byte
	if len(f.pending) > 0 {
		need := f.size - len(f.pending)
		if len(p) < need {
			f.pending = append(f.pending, p...)
			return nil
		}
		frame := make([]byte, f.size)
		copy(frame, f.pending)
		copy(frame[len(f.pending):], p[:need])
		frames = append(frames, frame)
		f.pending = f.pending[:0]
		p = p[need:]
	}
	for len(p) >= f.size {
		frame := make([]byte, f.size)
		copy(frame, p[:f.size])
		frames = append(frames, frame)
		p = p[f.size:]
	}
	f.pending = append(f.pending, p...)
	return frames
}

// Flush returns the carried-over bytes, if any, as a final short frame.
func (f *Framer) Flush() []byte {
	if len(f.pending) == 0 {
		return nil
	}
	out := make([]byte, len(f.pending))
	copy(out, f.pending)
	f.pending = f.pending[:0]
	return out
}

// Pending reports how many bytes are carried over.
func (f *Framer) Pending() int { return len(f.pending) }

// Reset drops carried-over bytes, e.g. after a playback is cancelled.
func (f *Framer) Reset() { f.pending = f.pending[:0] }
