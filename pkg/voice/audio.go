package voice

import "encoding/binary"

// SplitFrames cuts pcm into frames of size samples. The last frame is
// zero-padded so every frame can be encoded.
func SplitFrames(pcm []int16, size int) [][]int16 {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			frame := make([]int16, size)
			copy(frame, pcm[start:])
			frames = append(frames, frame)
			break
		}
		frames = append(frames, pcm[start:end])
	}
	return frames
}

// PCMFromBytes decodes little-endian 16-bit samples. A trailing odd byte is
// dropped.
func PCMFromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// PCMToBytes encodes samples as little-endian 16-bit.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
