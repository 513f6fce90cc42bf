package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/hertz/pkg/audio"
)

// Config configures the external decoder processes.
type Config struct {
	// FFmpegPath is the ffmpeg binary. Defaults to "ffmpeg".
	FFmpegPath string

	// YTDLPPath is the yt-dlp binary. Defaults to "yt-dlp".
	YTDLPPath string

	// Prefetch is the number of frames buffered ahead of playback.
	Prefetch int

	// FFmpegArgs are extra input arguments inserted before "-i".
	FFmpegArgs []string
}

// Request describes one track to decode.
type Request struct {
	// URL is the page or media URL of the track.
	URL string

	// Direct skips yt-dlp and lets ffmpeg read URL itself. Used for direct
	// media links and live radio streams.
	Direct bool

	// Volume is the gain in percent (0–100).
	Volume int
}

// Opener starts yt-dlp/ffmpeg pipelines and wraps them in a [Source].
//
// Opener is safe for concurrent use.
type Opener struct {
	cfg Config
}

// NewOpener returns an Opener with defaults applied to cfg.
func NewOpener(cfg Config) *Opener {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	return &Opener{cfg: cfg}
}

// Open starts decoding req and returns a frame source. Failures to start the
// pipeline are reported as [audio.ErrUnplayable]. ctx only bounds the start;
// the processes live until the source is closed or the track ends.
func (o *Opener) Open(ctx context.Context, req Request) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stream: open %q: %w", req.URL, err)
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("stream: open: %w: empty url", audio.ErrUnplayable)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	var (
		p   *pipeline
		err error
	)
	if req.Direct {
		p, err = o.startDirect(procCtx, req.URL)
	} else {
		p, err = o.startPiped(procCtx, req.URL)
	}
	if p != nil {
		p.kill = cancel
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: open %q: %w: %w", req.URL, audio.ErrUnplayable, err)
	}

	src, err := NewSource(p.stdout, SourceOptions{
		Volume:   req.Volume,
		Prefetch: o.cfg.Prefetch,
		Wait:     p.wait,
		Kill:     cancel,
	})
	if err != nil {
		cancel()
		_ = p.wait()
		return nil, fmt.Errorf("stream: open %q: %w", req.URL, err)
	}
	slog.Debug("stream: pipeline started", "url", req.URL, "direct", req.Direct)
	return src, nil
}

// ffmpegArgs builds the ffmpeg command line reading from input.
func (o *Opener) ffmpegArgs(input string, network bool) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if network {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	args = append(args, o.cfg.FFmpegArgs...)
	return append(args,
		"-i", input,
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"pipe:1",
	)
}

// pipeline is a running set of decoder processes. cmds are in pipe order;
// the last one writes stdout.
type pipeline struct {
	stdout io.ReadCloser
	cmds   []*exec.Cmd
	stderr []*bytes.Buffer
	kill   func()

	waitOnce sync.Once
	waitErr  error
}

// wait reaps every process once and reports the failures together with the
// tail of their stderr. When the last process failed nothing drains the
// upstream pipes anymore, so the remaining processes are killed before they
// are reaped.
func (p *pipeline) wait() error {
	p.waitOnce.Do(func() {
		var errs []error
		for i := len(p.cmds) - 1; i >= 0; i-- {
			err := p.cmds[i].Wait()
			if i == len(p.cmds)-1 && i > 0 && err != nil && p.kill != nil {
				p.kill()
			}
			if err != nil {
				msg := strings.TrimSpace(tail(p.stderr[i].String(), 256))
				errs = append(errs, fmt.Errorf("%s: %w (%s)", p.cmds[i].Path, err, msg))
			}
		}
		p.waitErr = errors.Join(errs...)
	})
	return p.waitErr
}

func (o *Opener) startDirect(ctx context.Context, url string) (*pipeline, error) {
	ff := exec.CommandContext(ctx, o.cfg.FFmpegPath, o.ffmpegArgs(url, true)...)
	var ffErr bytes.Buffer
	ff.Stderr = &ffErr
	out, err := ff.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := ff.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	return &pipeline{stdout: out, cmds: []*exec.Cmd{ff}, stderr: []*bytes.Buffer{&ffErr}}, nil
}

func (o *Opener) startPiped(ctx context.Context, url string) (*pipeline, error) {
	yt := exec.CommandContext(ctx, o.cfg.YTDLPPath, "--quiet", "--no-playlist", "-f", "bestaudio/best", "-o", "-", url)
	ff := exec.CommandContext(ctx, o.cfg.FFmpegPath, o.ffmpegArgs("pipe:0", false)...)
	var ytErr, ffErr bytes.Buffer
	yt.Stderr = &ytErr
	ff.Stderr = &ffErr

	ytOut, err := yt.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp stdout pipe: %w", err)
	}
	ff.Stdin = ytOut
	out, err := ff.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := yt.Start(); err != nil {
		return nil, fmt.Errorf("yt-dlp start: %w", err)
	}
	if err := ff.Start(); err != nil {
		_ = yt.Process.Kill()
		_ = yt.Wait()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	// ffmpeg holds its own copy of the read end. Dropping ours lets yt-dlp
	// see a broken pipe when ffmpeg exits early.
	if f, ok := ytOut.(*os.File); ok {
		_ = f.Close()
	}
	return &pipeline{
		stdout: out,
		cmds:   []*exec.Cmd{yt, ff},
		stderr: []*bytes.Buffer{&ytErr, &ffErr},
	}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
