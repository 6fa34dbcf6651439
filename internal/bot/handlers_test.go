package bot

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/model"
	"newsbot/internal/scheduler"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "2h 30m", want: 9000},
		{in: "40m", want: 2400},
		{in: "1h", want: 3600},
		{in: "30m 2h", want: 9000},
		{in: "1H30M", want: 5400},
		{in: "2h53m", want: 10380},
		{in: "1h junk 5m", want: 3900},
		{in: "1000h", want: 3600000},
		{in: "3000000h", want: 10800000000},
		{in: "5124096h 1m", want: 18446745660},
		{in: "99999999999999999999h", want: math.MaxInt},
		{in: "9223372036854775807m 1h", want: math.MaxInt},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "0h0m", wantErr: true},
		{in: "45s", wantErr: true},
		{in: "-5m", want: 300},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInterval) {
					t.Fatalf("error = %v, want ErrInvalidInterval", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("seconds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantCmd  string
		wantArgs string
		wantOK   bool
	}{
		{in: "/info", wantCmd: "info", wantOK: true},
		{in: "/setinterval 2h 30m", wantCmd: "setinterval", wantArgs: "2h 30m", wantOK: true},
		{in: "/Info@news_bot", wantCmd: "info", wantOK: true},
		{in: "/editprompt line one\nline two", wantCmd: "editprompt", wantArgs: "line one\nline two", wantOK: true},
		{in: "/editprompt\nfirst line", wantCmd: "editprompt", wantArgs: "first line", wantOK: true},
		{in: "hello", wantOK: false},
		{in: "/", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, args, ok := ParseCommand(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.wantCmd, cmd); diff != "" {
				t.Errorf("cmd mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsChannelRef(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "@technews", want: true},
		{in: "-1001234567890", want: true},
		{in: "@", want: false},
		{in: "@two words", want: false},
		{in: "-100abc", want: false},
		{in: "12345", want: false},
		{in: "/start", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := IsChannelRef(tt.in); got != tt.want {
				t.Errorf("IsChannelRef(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUsername(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "@alice", want: "alice", wantOK: true},
		{in: "bob extra", want: "bob", wantOK: true},
		{in: "", wantOK: false},
		{in: "@", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseUsername(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseUsername(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 9000 * time.Second, want: "2h 30m"},
		{in: 40 * time.Minute, want: "40m"},
		{in: time.Hour, want: "1h 0m"},
		{in: 30 * time.Second, want: "30s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatInterval(tt.in)); diff != "" {
				t.Errorf("FormatInterval mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := FormatStatus(StatusInfo{
		Channel: "@technews",
		Creator: "alice",
		Admins:  []string{"alice", "bob"},
		Scheduler: scheduler.Status{
			Running:     true,
			Interval:    time.Hour,
			StartedAt:   now.Add(-90 * time.Minute),
			NextRunAt:   now.Add(5*time.Minute + 7*time.Second),
			Source:      "https://arstechnica.com/feed/",
			SourceCount: 10,
			Posts:       4,
			Duplicates:  2,
			Errors:      1,
		},
		CacheSize: 4,
		Model:     "gpt-4o-mini",
		Prompt:    "Summarize {url}",
		Now:       now,
	})

	for _, want := range []string{
		"Channel: @technews",
		"Creator: @alice",
		"Admins: @alice, @bob",
		"Posting: running",
		"Interval: 1h 0m",
		"Next post in: 5 min 7 sec",
		"Current RSS: https://arstechnica.com/feed/",
		"RSS sources: 10",
		"Posts published: 4",
		"Duplicates skipped: 2",
		"Errors: 1",
		"Cache size: 4 entries",
		"Uptime: 1h30m0s",
		"Model: gpt-4o-mini",
		"Prompt:\nSummarize {url}",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}

	stopped := FormatStatus(StatusInfo{Scheduler: scheduler.Status{Interval: time.Hour}, Now: now})
	for _, want := range []string{"Posting: stopped", "Next post in: not active", "Uptime: not started"} {
		if !strings.Contains(stopped, want) {
			t.Errorf("stopped status missing %q:\n%s", want, stopped)
		}
	}
}

func TestFormatErrors(t *testing.T) {
	if diff := cmp.Diff("No errors yet.", FormatErrors(nil)); diff != "" {
		t.Errorf("empty mismatch (-want +got):\n%s", diff)
	}

	got := FormatErrors([]model.ErrorRecord{
		{Message: "send failed", Link: "https://example.com/b", CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{Message: "fetch failed", Link: "https://example.com/rss", CreatedAt: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)},
	})
	want := "Recent errors:\n" +
		"2024-05-01T12:00:00Z - send failed (link: https://example.com/b)\n" +
		"2024-05-01T11:00:00Z - fetch failed (link: https://example.com/rss)"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatErrors mismatch (-want +got):\n%s", diff)
	}
}
