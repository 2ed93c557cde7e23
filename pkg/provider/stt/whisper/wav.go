package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// bitsPerSample is the only PCM depth whisper.cpp accepts.
const bitsPerSample = 16

// wavFormat describes the PCM layout found in a WAV header.
type wavFormat struct {
	sampleRate    int
	channels      int
	bitsPerSample int
}

// decodeWAV walks the RIFF chunks of data and returns the raw PCM payload of
// the "data" chunk together with its format. Only uncompressed 16-bit PCM is
// accepted. ffmpeg writes a 0xFFFFFFFF data size when streaming to a pipe, so
// the data chunk is clamped to the bytes actually present.
func decodeWAV(data []byte) ([]byte, wavFormat, error) {
	var f wavFormat
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, f, errors.New("whisper: not a RIFF/WAVE file")
	}

	var haveFmt bool
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, f, errors.New("whisper: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return nil, f, fmt.Errorf("whisper: unsupported WAV format %d", format)
			}
			f.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if f.bitsPerSample != bitsPerSample {
				return nil, f, fmt.Errorf("whisper: unsupported bit depth %d", f.bitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, f, errors.New("whisper: data chunk before fmt chunk")
			}
			return data[body:end], f, nil
		}

		// Chunks are word aligned.
		off = end + (end-body)%2
	}
	return nil, f, errors.New("whisper: no data chunk")
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0-32767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// isSilent reports whether wav decodes to PCM whose energy is below
// threshold. Undecodable input is never considered silent so that the
// backend gets to report the real problem.
func isSilent(wav []byte, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	pcm, _, err := decodeWAV(wav)
	if err != nil {
		return false
	}
	return computeRMS(pcm) < threshold
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to float32
// samples in [-1, 1], averaging interleaved channels into one. A trailing
// partial frame is ignored.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:idx+2]))) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
