package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("youtube", "youtube", cfg)
	fg.AddFallback("yt-dlp", "yt-dlp")
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    []string
		wantErr bool
	}{
		{name: "primary succeeds", want: []string{"youtube"}},
		{name: "falls back", failing: map[string]bool{"youtube": true}, want: []string{"youtube", "yt-dlp"}},
		{name: "all fail", failing: map[string]bool{"youtube": true, "yt-dlp": true}, want: []string{"youtube", "yt-dlp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newGroup(FallbackConfig{})
			var tried []string
			err := fg.Execute(func(v string) error {
				tried = append(tried, v)
				if tt.failing[v] {
					return errTest
				}
				return nil
			})
			if diff := cmp.Diff(tt.want, tried); diff != "" {
				t.Errorf("tried mismatch (-want +got):\n%s", diff)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest)) {
				t.Errorf("err = %v, want ErrAllFailed joined with the last error", err)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fg := newGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, Now: clock.Now},
	})

	calls := map[string]int{}
	run := func() {
		_ = fg.Execute(func(v string) error {
			calls[v]++
			if v == "youtube" {
				return errTest
			}
			return nil
		})
	}
	run()
	run()
	if calls["youtube"] != 1 || calls["yt-dlp"] != 2 {
		t.Errorf("calls = %v, the open primary must be skipped", calls)
	}

	want := map[string]State{"youtube": StateOpen, "yt-dlp": StateClosed}
	if diff := cmp.Diff(want, fg.States()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	clock.Advance(time.Minute)
	run()
	if calls["youtube"] != 2 {
		t.Errorf("youtube calls = %d, want a trial call after the reset timeout", calls["youtube"])
	}
}

func TestFallbackGroup_FinalErrorStops(t *testing.T) {
	t.Parallel()

	errGone := errors.New("video gone")
	fg := newGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
		Final:          func(err error) bool { return errors.Is(err, errGone) },
	})

	var tried []string
	for range 3 {
		tried = tried[:0]
		_, err := ExecuteWithResult(fg, func(v string) (int, error) {
			tried = append(tried, v)
			return 0, errGone
		})
		if !errors.Is(err, errGone) || errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want the final error unwrapped", err)
		}
	}
	if diff := cmp.Diff([]string{"youtube"}, tried); diff != "" {
		t.Errorf("tried mismatch (-want +got):\n%s", diff)
	}
	if fg.States()["youtube"] != StateClosed {
		t.Error("final errors must not open the breaker")
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{})
	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "youtube" {
			return "", errTest
		}
		return "resolved by " + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "resolved by yt-dlp" {
		t.Errorf("got %q", got)
	}
	if diff := cmp.Diff([]string{"youtube", "yt-dlp"}, fg.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}
