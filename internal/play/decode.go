package play

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tosone/minimp3"

	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

// wavChunkFrames is how many frames are pulled from a WAV decoder at once.
const wavChunkFrames = 4096

// Audio is a fully decoded file as 16-bit little-endian PCM.
type Audio struct {
	SampleRate int
	Channels   int
	PCM        []byte
}

// Decode reads an MP3 or WAV file into memory.
func Decode(path string) (*Audio, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return decodeMP3(path)
	case ".wav":
		return decodeWAV(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func decodeMP3(path string) (*Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, samples, err := minimp3.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	if dec.SampleRate == 0 || dec.Channels == 0 || len(samples) == 0 {
		return nil, fmt.Errorf("decode mp3: no audio frames in %s", filepath.Base(path))
	}
	return &Audio{SampleRate: dec.SampleRate, Channels: dec.Channels, PCM: samples}, nil
}

func decodeWAV(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("decode wav: invalid file %s", filepath.Base(path))
	}
	dec.ReadInfo()
	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels == 0 || bitDepth == 0 {
		return nil, fmt.Errorf("decode wav: missing format chunk")
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		Data:   make([]int, wavChunkFrames*channels),
	}
	var samples []int16
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		for _, v := range buf.Data[:n] {
			samples = append(samples, toInt16(v, bitDepth))
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("decode wav: no samples in %s", filepath.Base(path))
	}
	return &Audio{SampleRate: int(dec.SampleRate), Channels: channels, PCM: pcm.Int16ToBytes(samples)}, nil
}

// toInt16 rescales a sample of the given bit depth. go-audio returns 8-bit
// WAV data unsigned.
func toInt16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		return int16((v - 128) << 8)
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	default:
		return int16(v)
	}
}
