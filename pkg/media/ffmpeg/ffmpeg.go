// Package ffmpeg implements [media.Opener] and [media.Transcoder] by running
// the ffmpeg and ffprobe binaries.
//
// Frames are decoded by piping raw RGBA video from ffmpeg's stdout, so any
// container, codec, device, or stream URL that ffmpeg understands can be used
// as a source. Audio is always produced as 16 kHz mono 16-bit WAV, the format
// expected by the speech recognizers.
package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.Opener     = (*FFmpeg)(nil)
	_ media.Transcoder = (*FFmpeg)(nil)
)

const (
	audioSampleRate = "16000"
	audioChannels   = "1"

	// waitDelay bounds how long Wait blocks on I/O after the process has been
	// killed.
	waitDelay = 2 * time.Second
)

// Option is a functional option for [FFmpeg].
type Option func(*FFmpeg)

// WithFFmpegPath overrides the ffmpeg binary. Defaults to "ffmpeg" on PATH.
func WithFFmpegPath(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.ffmpeg = path
		}
	}
}

// WithFFprobePath overrides the ffprobe binary. Defaults to "ffprobe" on PATH.
func WithFFprobePath(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.ffprobe = path
		}
	}
}

// FFmpeg shells out to ffmpeg/ffprobe. It is stateless and safe for
// concurrent use.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
}

// New returns an [FFmpeg] using the binaries on PATH unless overridden.
func New(opts ...Option) *FFmpeg {
	f := &FFmpeg{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CheckInstallation verifies that both binaries can be executed.
func (f *FFmpeg) CheckInstallation(ctx context.Context) error {
	for _, bin := range []string{f.ffmpeg, f.ffprobe} {
		if err := exec.CommandContext(ctx, bin, "-version").Run(); err != nil {
			return fmt.Errorf("ffmpeg: %s is not installed or not in PATH: %w", bin, err)
		}
	}
	return nil
}

// ---- probing ----------------------------------------------------------------

// probeOutput mirrors the subset of `ffprobe -of json` output we read.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
}

func (f *FFmpeg) probe(ctx context.Context, ref string, video bool) (*probeOutput, error) {
	args := []string{"-v", "error"}
	if video {
		args = append(args,
			"-select_streams", "v:0",
			"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames",
		)
	}
	args = append(args, "-show_entries", "format=duration", "-of", "json", ref)

	cmd := exec.CommandContext(ctx, f.ffprobe, args...)
	cmd.WaitDelay = waitDelay
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: probe %q: %w%s", ref, err, stderrOf(err))
	}
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("ffmpeg: parse probe output: %w", err)
	}
	return &p, nil
}

// videoInfo converts probe output into [media.VideoInfo].
func videoInfo(p *probeOutput) (media.VideoInfo, error) {
	if len(p.Streams) == 0 {
		return media.VideoInfo{}, errors.New("ffmpeg: no video stream")
	}
	s := p.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return media.VideoInfo{}, fmt.Errorf("ffmpeg: invalid frame size %dx%d", s.Width, s.Height)
	}
	info := media.VideoInfo{
		Width:    s.Width,
		Height:   s.Height,
		FPS:      parseRate(s.AvgFrameRate),
		Duration: parseSeconds(p.Format.Duration),
	}
	if info.FPS == 0 {
		info.FPS = parseRate(s.RFrameRate)
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.TotalFrames = n
	} else if info.Duration > 0 && info.FPS > 0 {
		info.TotalFrames = int(info.Duration.Seconds()*info.FPS + 0.5)
	}
	return info, nil
}

// parseRate parses an ffprobe rational such as "30000/1001". Invalid or
// zero-denominator values yield 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// parseSeconds parses a decimal seconds value ("12.480000"). "N/A" and
// garbage yield 0.
func parseSeconds(s string) time.Duration {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// ---- Transcoder -------------------------------------------------------------

// Duration implements [media.Transcoder].
func (f *FFmpeg) Duration(ctx context.Context, mediaPath string) (time.Duration, error) {
	p, err := f.probe(ctx, mediaPath, false)
	if err != nil {
		return 0, err
	}
	d := parseSeconds(p.Format.Duration)
	if d <= 0 {
		return 0, media.ErrNoDuration
	}
	return d, nil
}

// ExtractAudio implements [media.Transcoder].
func (f *FFmpeg) ExtractAudio(ctx context.Context, mediaPath, dst string, start, length time.Duration) error {
	args := []string{"-y", "-v", "error"}
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	args = append(args, "-i", mediaPath)
	if length > 0 {
		args = append(args, "-t", formatSeconds(length))
	}
	args = append(args, "-vn", "-ac", audioChannels, "-ar", audioSampleRate, "-f", "wav", dst)
	return f.run(ctx, "extract audio", args)
}

// Remux implements [media.Transcoder].
func (f *FFmpeg) Remux(ctx context.Context, src, dst string) error {
	args := []string{"-y", "-v", "error", "-i", src,
		"-vn", "-ac", audioChannels, "-ar", audioSampleRate, "-f", "wav", dst}
	return f.run(ctx, "remux", args)
}

// run executes ffmpeg. When ctx ends first the process is killed and the
// context error is returned wrapped, so callers can detect timeouts with
// errors.Is(err, context.DeadlineExceeded).
func (f *FFmpeg) run(ctx context.Context, op string, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg: %s killed: %w", op, ctxErr)
		}
		return fmt.Errorf("ffmpeg: %s: %w: %s", op, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func stderrOf(err error) string {
	var ee *exec.ExitError
	if errors.As(err, &ee) && len(ee.Stderr) > 0 {
		return ": " + strings.TrimSpace(string(ee.Stderr))
	}
	return ""
}

// ---- Opener -----------------------------------------------------------------

// Open implements [media.Opener]. It probes ref, then starts an ffmpeg process
// that decodes the first video stream to raw RGBA on stdout. The process
// outlives ctx and is stopped by [media.Source.Close].
func (f *FFmpeg) Open(ctx context.Context, ref string) (media.Source, error) {
	p, err := f.probe(ctx, ref, true)
	if err != nil {
		return nil, err
	}
	info, err := videoInfo(p)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, f.ffmpeg,
		"-v", "error", "-i", ref,
		"-map", "0:v:0", "-f", "rawvideo", "-pix_fmt", "rgba", "-",
	)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: start decoder: %w", err)
	}

	return &source{
		info:      info,
		cmd:       cmd,
		cancel:    cancel,
		stdout:    stdout,
		r:         bufio.NewReaderSize(stdout, info.Width*info.Height*4),
		frameSize: info.Width * info.Height * 4,
	}, nil
}

// source reads fixed-size RGBA frames from an ffmpeg decoder process.
type source struct {
	info      media.VideoInfo
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdout    io.Closer
	r         io.Reader
	frameSize int
	seq       int

	closeOnce sync.Once
	closeErr  error
}

func (s *source) Info() media.VideoInfo { return s.info }

// Next reads the next frame. A short read at the end of the stream is treated
// as exhaustion. Cancelling ctx kills the decoder and unblocks a pending read;
// the source is unusable afterwards.
func (s *source) Next(ctx context.Context) (media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return media.Frame{}, err
	}
	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()

	buf := make([]byte, s.frameSize)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return media.Frame{}, fmt.Errorf("ffmpeg: read frame: %w", ctxErr)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return media.Frame{}, io.EOF
		}
		return media.Frame{}, fmt.Errorf("ffmpeg: read frame: %w", err)
	}
	s.seq++

	img := &image.RGBA{
		Pix:    buf,
		Stride: s.info.Width * 4,
		Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
	}
	var ts time.Duration
	if s.info.FPS > 0 {
		ts = time.Duration(float64(s.seq-1) / s.info.FPS * float64(time.Second))
	}
	return media.Frame{Seq: s.seq, Image: img, Timestamp: ts}, nil
}

// interrupt kills the decoder and closes its stdout. Closing the pipe matters
// when the decoder left children holding the write end open.
func (s *source) interrupt() {
	s.cancel()
	_ = s.stdout.Close()
}

// Close stops the decoder process. It is safe to call more than once.
func (s *source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		err := s.cmd.Wait()
		// A decoder we killed ourselves exits with a signal; that is not a
		// failure of Close.
		var ee *exec.ExitError
		if err != nil && !errors.As(err, &ee) && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("ffmpeg: wait decoder: %w", err)
		}
	})
	return s.closeErr
}
