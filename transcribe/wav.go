package transcribe

import (
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize       = 12
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVInfo describes the fmt chunk of a WAV file
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// ValidateWAV checks that data is a 16-bit PCM WAV file and returns its format
func ValidateWAV(data []byte) (*WAVInfo, error) {
	if len(data) < wavHeaderSize+8 {
		return nil, fmt.Errorf("%w: WAV data too short: %d bytes", ErrUnsupportedFormat, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrUnsupportedFormat)
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE format", ErrUnsupportedFormat)
	}

	var info *WAVInfo
	haveData := false

	// Walk the chunk list; browsers often add LIST chunks before data
	for off := wavHeaderSize; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedFormat)
			}
			info = &WAVInfo{
				AudioFormat:   binary.LittleEndian.Uint16(data[body : body+2]),
				Channels:      binary.LittleEndian.Uint16(data[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				BitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
		case "data":
			if info == nil {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			info.DataSize = size
			haveData = true
		}
		if haveData {
			break
		}

		// Chunks are word aligned
		next := body + int(size) + int(size&1)
		if next <= off {
			break
		}
		off = next
	}

	if info == nil {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrUnsupportedFormat)
	}
	if !haveData {
		return nil, fmt.Errorf("%w: missing data chunk", ErrUnsupportedFormat)
	}
	if info.AudioFormat != wavFormatPCM && info.AudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: audio format %d (only PCM is supported)", ErrUnsupportedFormat, info.AudioFormat)
	}
	if info.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: bit depth %d (only 16-bit is supported)", ErrUnsupportedFormat, info.BitsPerSample)
	}
	if info.Channels == 0 || info.SampleRate == 0 {
		return nil, fmt.Errorf("%w: invalid channel count or sample rate", ErrUnsupportedFormat)
	}
	return info, nil
}

// Duration returns the clip length in seconds
func (i *WAVInfo) Duration() float64 {
	bytesPerSecond := float64(i.SampleRate) * float64(i.Channels) * float64(i.BitsPerSample) / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(i.DataSize) / bytesPerSecond
}
