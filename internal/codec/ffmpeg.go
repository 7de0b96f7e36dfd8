package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

// maxStderrSize limits how much ffmpeg diagnostic output is kept.
const maxStderrSize = 16 * 1024

// readChunk is the size of each read from ffmpeg's stdout.
const readChunk = 32 * 1024

// ffmpegEngine encodes through one long-running ffmpeg process per stream.
// PCM is fed on stdin for the lifetime of the stream, so the encoder state
// carries across chunks exactly like a linked encoder.
type ffmpegEngine struct {
	binary string
}

func newFFmpegEngine(binary string) Engine {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &ffmpegEngine{binary: binary}
}

func (e *ffmpegEngine) Name() string { return string(EngineFFmpeg) }

func (e *ffmpegEngine) Open(p Params) (Stream, error) {
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return nil, &CodecInitError{Engine: e.Name(), Params: p, Err: fmt.Errorf("ffmpeg not found: %w", err)}
	}

	cmd := exec.Command(path, BuildFFmpegArgs(p)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &limitedBuffer{max: maxStderrSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &ffmpegStream{
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderr,
		readDone: make(chan struct{}),
	}
	go s.readLoop(stdout)
	return s, nil
}

// BuildFFmpegArgs returns the arguments that read raw mono s16le PCM from
// stdin and write a headerless CBR MP3 stream to stdout, flushing every
// packet as soon as it is encoded.
func BuildFFmpegArgs(p Params) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(p.Bitrate) + "k",
		"-write_xing", "0",
		"-id3v2_version", "0",
		"-flush_packets", "1",
		"-f", "mp3",
		"pipe:1",
	}
}

type ffmpegStream struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *limitedBuffer
	readDone chan struct{}

	// Encoded bytes read from stdout and not yet handed out.
	mu      sync.Mutex
	pending []byte
	readErr error

	inputClosed bool
	waited      bool
	closed      bool
}

func (s *ffmpegStream) readLoop(r io.Reader) {
	defer close(s.readDone)
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// Encode feeds samples to ffmpeg and returns the whole MP3 frames it has
// produced so far. A trailing partial frame is held back for the next call.
func (s *ffmpegStream) Encode(samples []int16, out []byte) (int, error) {
	if s.closed || s.inputClosed {
		return 0, ErrContextClosed
	}
	if _, err := s.stdin.Write(pcm.Int16ToBytes(samples)); err != nil {
		return 0, s.failure(fmt.Errorf("write pcm: %w", err))
	}
	return s.take(out, false)
}

// Flush ends the input and drains the encoder. It may be called again while
// it keeps returning data; the final call returns 0.
func (s *ffmpegStream) Flush(out []byte) (int, error) {
	if s.closed {
		return 0, ErrContextClosed
	}
	if !s.inputClosed {
		s.inputClosed = true
		if err := s.stdin.Close(); err != nil {
			return 0, s.failure(fmt.Errorf("close stdin: %w", err))
		}
	}
	if !s.waited {
		<-s.readDone
		s.waited = true
		if err := s.cmd.Wait(); err != nil {
			return 0, s.failure(err)
		}
	}
	return s.take(out, true)
}

// take copies buffered output into out. Unless all is set only whole frames
// are copied.
func (s *ffmpegStream) take(out []byte, all bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return 0, fmt.Errorf("read mp3: %w", s.readErr)
	}
	n := wholeFrames(s.pending, len(out))
	if all && n == 0 && len(s.pending) <= len(out) {
		n = len(s.pending)
	}
	copy(out, s.pending[:n])
	s.pending = s.pending[n:]
	return n, nil
}

// failure adds ffmpeg's last diagnostic line once the process has exited.
func (s *ffmpegStream) failure(err error) error {
	if s.waited {
		if msg := lastLine(s.stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %s: %w", msg, err)
		}
	}
	return fmt.Errorf("ffmpeg: %w", err)
}

func (s *ffmpegStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.inputClosed {
		s.inputClosed = true
		_ = s.stdin.Close()
	}
	if s.waited {
		return nil
	}
	// Abandoned mid-stream: the output is not wanted.
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.readDone
	s.waited = true
	_ = s.cmd.Wait()
	return nil
}

// limitedBuffer keeps at most max bytes, dropping the oldest.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// lastLine returns the last non-empty line of ffmpeg's stderr.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			if len(line) > 200 {
				return line[:200] + "..."
			}
			return line
		}
	}
	return ""
}
