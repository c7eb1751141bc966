package wire

import (
	"encoding/binary"
)

// FrameAssembler extracts complete length-prefixed frames out of an
// arbitrarily-chunked byte stream. The Socket Engine delivers whatever it
// actually read from the kernel, not whole messages; this is what turns
// that stream back into discrete frames.
type FrameAssembler struct {
	buf []byte
}

// Feed appends newly-read bytes and returns every complete frame payload
// that can now be extracted, in order. Partial data is retained for the
// next call.
func (a *FrameAssembler) Feed(data []byte) ([][]byte, error) {
	a.buf = append(a.buf, data...)

	var frames [][]byte
	for {
		if len(a.buf) < 4 {
			return frames, nil
		}

		length := binary.BigEndian.Uint32(a.buf[:4])
		if length > MaxFrameSize {
			return frames, ErrFrameTooLarge
		}

		total := 4 + int(length)
		if len(a.buf) < total {
			return frames, nil
		}

		payload := make([]byte, length)
		copy(payload, a.buf[4:total])
		frames = append(frames, payload)

		remaining := len(a.buf) - total
		copy(a.buf, a.buf[total:])
		a.buf = a.buf[:remaining]
	}
}
