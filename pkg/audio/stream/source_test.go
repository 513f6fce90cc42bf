package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/MrWong99/hertz/pkg/audio"
)

// pcmReader returns a reader that yields frames complete PCM frames of silence
// followed by extra trailing bytes.
func pcmReader(frames, extra int) io.ReadCloser {
	r, w := io.Pipe()
	go func() {
		buf := make([]byte, pcmFrameBytes)
		for range frames {
			if _, err := w.Write(buf); err != nil {
				return
			}
		}
		if extra > 0 {
			_, _ = w.Write(make([]byte, extra))
		}
		_ = w.Close()
	}()
	return r
}

func drain(t *testing.T, src audio.FrameSource) (int, error) {
	t.Helper()
	n := 0
	for {
		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		_, err := src.NextFrame(ctx)
		cancel()
		if err != nil {
			return n, err
		}
		n++
	}
}

func TestSource_EndOfStream(t *testing.T) {
	t.Parallel()

	src, err := NewSource(pcmReader(5, 0), SourceOptions{Volume: 80})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Close()

	n, err := drain(t, src)
	if !errors.Is(err, audio.ErrEndOfStream) {
		t.Fatalf("terminal error = %v, want ErrEndOfStream", err)
	}
	if n != 5 {
		t.Errorf("frames = %d, want 5", n)
	}
}

func TestSource_PartialTrailingFrameIsPadded(t *testing.T) {
	t.Parallel()

	src, err := NewSource(pcmReader(2, 100), SourceOptions{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Close()

	n, err := drain(t, src)
	if !errors.Is(err, audio.ErrEndOfStream) {
		t.Fatalf("terminal error = %v, want ErrEndOfStream", err)
	}
	if n != 3 {
		t.Errorf("frames = %d, want 3", n)
	}
}

func TestSource_SequenceNumbers(t *testing.T) {
	t.Parallel()

	src, err := NewSource(pcmReader(3, 0), SourceOptions{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Close()

	for want := range int64(3) {
		f, err := src.NextFrame(t.Context())
		if err != nil {
			t.Fatalf("NextFrame: %v", err)
		}
		if f.Seq != want {
			t.Errorf("Seq = %d, want %d", f.Seq, want)
		}
		if f.Duration != audio.FrameDuration {
			t.Errorf("Duration = %v, want %v", f.Duration, audio.FrameDuration)
		}
		if len(f.Opus) == 0 {
			t.Error("empty opus packet")
		}
	}
}

func TestSource_ErrorClassification(t *testing.T) {
	t.Parallel()

	exitErr := errors.New("exit status 1")
	tests := []struct {
		name   string
		frames int
		wait   error
		want   error
	}{
		{name: "nothing decoded", frames: 0, wait: exitErr, want: audio.ErrUnplayable},
		{name: "empty clean exit", frames: 0, wait: nil, want: audio.ErrUnplayable},
		{name: "failed mid-stream", frames: 4, wait: exitErr, want: audio.ErrNetworkFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, err := NewSource(pcmReader(tt.frames, 0), SourceOptions{
				Wait: func() error { return tt.wait },
			})
			if err != nil {
				t.Fatalf("NewSource: %v", err)
			}
			defer src.Close()

			n, err := drain(t, src)
			if !errors.Is(err, tt.want) {
				t.Fatalf("terminal error = %v, want %v", err, tt.want)
			}
			if n != tt.frames {
				t.Errorf("frames = %d, want %d", n, tt.frames)
			}
		})
	}
}

func TestSource_StalledWhenProducerIsSlow(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer w.Close()
	src, err := NewSource(r, SourceOptions{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.NextFrame(ctx); !errors.Is(err, audio.ErrStalled) {
		t.Fatalf("NextFrame: want ErrStalled, got %v", err)
	}
}

func TestSource_CloseUnblocksAndIsIdempotent(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer w.Close()
	killed := 0
	src, err := NewSource(r, SourceOptions{Kill: func() { killed++ }})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := src.NextFrame(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	for range 3 {
		if err := src.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, audio.ErrClosed) {
			t.Errorf("blocked NextFrame: want ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("NextFrame did not unblock after Close")
	}
	if killed != 1 {
		t.Errorf("Kill called %d times, want 1", killed)
	}
}

func TestOpener_EmptyURLIsUnplayable(t *testing.T) {
	t.Parallel()

	o := NewOpener(Config{})
	if _, err := o.Open(t.Context(), Request{URL: "  "}); !errors.Is(err, audio.ErrUnplayable) {
		t.Fatalf("Open: want ErrUnplayable, got %v", err)
	}
}

func TestOpener_MissingBinaryIsUnplayable(t *testing.T) {
	t.Parallel()

	o := NewOpener(Config{FFmpegPath: "/nonexistent/ffmpeg-for-test"})
	_, err := o.Open(t.Context(), Request{URL: "https://example.com/stream.mp3", Direct: true})
	if !errors.Is(err, audio.ErrUnplayable) {
		t.Fatalf("Open: want ErrUnplayable, got %v", err)
	}
}

func TestOpener_FFmpegArgs(t *testing.T) {
	t.Parallel()

	o := NewOpener(Config{FFmpegArgs: []string{"-ss", "5"}})
	args := o.ffmpegArgs("http://x", true)

	has := func(seq ...string) bool {
		for i := 0; i+len(seq) <= len(args); i++ {
			match := true
			for j := range seq {
				if args[i+j] != seq[j] {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
		return false
	}
	for _, seq := range [][]string{
		{"-reconnect", "1"},
		{"-ss", "5", "-i", "http://x"},
		{"-f", "s16le"},
		{"-ar", "48000"},
		{"-ac", "2"},
	} {
		if !has(seq...) {
			t.Errorf("ffmpeg args %v missing %v", args, seq)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("last arg = %q, want pipe:1", args[len(args)-1])
	}
}

// fakeBinary writes an executable shell script standing in for yt-dlp or
// ffmpeg and returns its path. Tests using it do not run in parallel: a
// concurrent fork can inherit the write descriptor and make exec fail with
// "text file busy".
func fakeBinary(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestOpener_DecoderExitsBeforeReading(t *testing.T) {
	o := NewOpener(Config{
		// yt-dlp keeps writing; ffmpeg gives up without reading a byte.
		YTDLPPath:  fakeBinary(t, "yt-dlp", "exec yes hertz"),
		FFmpegPath: fakeBinary(t, "ffmpeg", "echo 'Invalid data found when processing input' >&2; exit 1"),
	})
	src, err := o.Open(t.Context(), Request{URL: "https://www.youtube.com/watch?v=broken"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, err = src.NextFrame(ctx)
	if !errors.Is(err, audio.ErrUnplayable) {
		t.Fatalf("NextFrame error = %v, want ErrUnplayable", err)
	}
	if errors.Is(err, audio.ErrStalled) {
		t.Errorf("NextFrame error %v reports a stall", err)
	}
	select {
	case <-src.done:
	case <-time.After(3 * time.Second):
		t.Error("reader goroutine still running after the pipeline failed")
	}
}

func TestOpener_PipedEndOfStream(t *testing.T) {
	o := NewOpener(Config{
		YTDLPPath:  fakeBinary(t, "yt-dlp", "head -c 1000 /dev/zero"),
		FFmpegPath: fakeBinary(t, "ffmpeg", fmt.Sprintf("cat >/dev/null; head -c %d /dev/zero", 2*pcmFrameBytes)),
	})
	src, err := o.Open(t.Context(), Request{URL: "https://www.youtube.com/watch?v=ok", Volume: 50})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	n, err := drain(t, src)
	if !errors.Is(err, audio.ErrEndOfStream) {
		t.Fatalf("terminal error = %v, want ErrEndOfStream", err)
	}
	if n != 2 {
		t.Errorf("frames = %d, want 2", n)
	}
}
