// Package pcm holds raw 16-bit little-endian sample data between the capture
// loop and the encoder.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// SampleWidth is the size in bytes of one signed 16-bit sample.
const SampleWidth = 2

// ErrInvalidInput is returned when a chunk would break sample alignment.
var ErrInvalidInput = errors.New("pcm: misaligned sample data")

// Buffer is a thread-safe accumulator of PCM bytes captured since the last
// drain. Its length is always a multiple of SampleWidth * channels.
type Buffer struct {
	mu         sync.Mutex
	data       []byte
	frameWidth int
}

// NewBuffer creates an empty buffer for the given channel count.
func NewBuffer(channels int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	return &Buffer{frameWidth: SampleWidth * channels}
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) error {
	if len(p)%b.frameWidth != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidInput, len(p), b.frameWidth)
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()
	return nil
}

// Drain returns everything accumulated so far and leaves the buffer empty.
// The returned slice is owned by the caller.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.data
	b.data = nil
	return out
}

// Requeue puts previously drained data back in front of anything captured
// since, so a failed flush can be retried without reordering samples.
func (b *Buffer) Requeue(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if len(p)%b.frameWidth != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidInput, len(p), b.frameWidth)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]byte, 0, len(p)+len(b.data))
	merged = append(merged, p...)
	merged = append(merged, b.data...)
	b.data = merged
	return nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Reset discards buffered data.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// BytesToInt16 decodes little-endian samples. A trailing odd byte is ignored.
func BytesToInt16(p []byte) []int16 {
	out := make([]int16, len(p)/SampleWidth)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[i*SampleWidth:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*SampleWidth:], uint16(s))
	}
	return out
}
