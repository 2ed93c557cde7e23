package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc", 0},
		{"24/x", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); got != tt.want {
			t.Errorf("parseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := parseRate("30000/1001"); got < 29.97 || got > 29.98 {
		t.Errorf("parseRate(30000/1001) = %v, want ~29.97", got)
	}
}

func TestParseSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"12.500000", 12500 * time.Millisecond},
		{" 3 ", 3 * time.Second},
		{"N/A", 0},
		{"", 0},
		{"-1", 0},
	}
	for _, tt := range tests {
		if got := parseSeconds(tt.in); got != tt.want {
			t.Errorf("parseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVideoInfo(t *testing.T) {
	t.Parallel()

	t.Run("uses nb_frames when present", func(t *testing.T) {
		t.Parallel()
		var p probeOutput
		p.Streams = append(p.Streams, probeStream{Width: 640, Height: 360, RFrameRate: "30/1", AvgFrameRate: "0/0", NbFrames: "90"})
		p.Format.Duration = "3.0"

		info, err := videoInfo(&p)
		if err != nil {
			t.Fatalf("videoInfo: %v", err)
		}
		if info.FPS != 30 || info.TotalFrames != 90 || info.Width != 640 || info.Height != 360 {
			t.Errorf("unexpected info %+v", info)
		}
		if info.Duration != 3*time.Second {
			t.Errorf("Duration = %v, want 3s", info.Duration)
		}
	})

	t.Run("estimates frames from duration", func(t *testing.T) {
		t.Parallel()
		var p probeOutput
		p.Streams = append(p.Streams, probeStream{Width: 2, Height: 2, AvgFrameRate: "25/1", NbFrames: "N/A"})
		p.Format.Duration = "2.0"

		info, err := videoInfo(&p)
		if err != nil {
			t.Fatalf("videoInfo: %v", err)
		}
		if info.TotalFrames != 50 {
			t.Errorf("TotalFrames = %d, want 50", info.TotalFrames)
		}
	})

	t.Run("no stream", func(t *testing.T) {
		t.Parallel()
		if _, err := videoInfo(&probeOutput{}); err == nil {
			t.Fatal("expected error for missing video stream")
		}
	})
}

func TestOptions(t *testing.T) {
	t.Parallel()

	f := New(WithFFmpegPath("/opt/ffmpeg"), WithFFprobePath(""))
	if f.ffmpeg != "/opt/ffmpeg" {
		t.Errorf("ffmpeg = %q", f.ffmpeg)
	}
	if f.ffprobe != "ffprobe" {
		t.Errorf("empty path should keep default, got %q", f.ffprobe)
	}
}

func TestRun_ContextDeadline(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	// Any long-running binary stands in for ffmpeg here.
	f := New(WithFFmpegPath("sleep"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.run(ctx, "test", []string{"5"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run error = %v, want DeadlineExceeded", err)
	}
}

// writeScript writes an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSource_NextHonoursCancellation(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	dir := t.TempDir()
	ffprobe := writeScript(t, dir, "ffprobe",
		`echo '{"streams":[{"width":4,"height":4,"avg_frame_rate":"25/1","nb_frames":"10"}],"format":{"duration":"0.4"}}'`)
	// A decoder that never writes a frame. sleep runs as a child so it keeps
	// the stdout pipe open after the shell is killed.
	dec := writeScript(t, dir, "ffmpeg", "sleep 30")

	f := New(WithFFmpegPath(dec), WithFFprobePath(ffprobe))
	src, err := f.Open(context.Background(), "stream.mp4")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = src.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Next returned after %v, want prompt return on cancellation", elapsed)
	}

	if _, err := src.Next(context.Background()); err == nil {
		t.Fatal("Next after interrupt should fail")
	}
}

func TestFFmpeg_Integration(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	f := New()
	if err := f.CheckInstallation(context.Background()); err != nil {
		t.Fatalf("CheckInstallation: %v", err)
	}
}
