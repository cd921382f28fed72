package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"Firefox", Firefox, false},
		{"firefox", Firefox, false},
		{"Chrome", Chrome, false},
		{"chrome", Chrome, false},
		{"Safari", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpen_UnsupportedKind(t *testing.T) {
	if _, err := Open(context.Background(), Options{Kind: "Opera"}); err == nil {
		t.Fatalf("Open returned nil error for unsupported kind")
	}
}

func TestOpen_FirefoxRequiresDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Kind: Firefox}); err == nil {
		t.Fatalf("Open returned nil error without a driver path")
	}
}

func TestPoll_SucceedsEventually(t *testing.T) {
	calls := 0
	err := poll(context.Background(), time.Second, func() (bool, error) {
		calls++
		return calls == 2, nil
	})
	if err != nil {
		t.Fatalf("poll returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestPoll_TimesOutWithLastError(t *testing.T) {
	boom := errors.New("boom")
	err := poll(context.Background(), 10*time.Millisecond, func() (bool, error) {
		return false, boom
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("poll error = %v, want ErrTimeout", err)
	}
}

func TestPoll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := poll(ctx, time.Minute, func() (bool, error) { return false, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("poll error = %v, want context.Canceled", err)
	}
}

func TestChromeFlags(t *testing.T) {
	flags := chromeFlags(true)
	if flags["disable-blink-features"] != "AutomationControlled" {
		t.Fatalf("automation flag = %v", flags["disable-blink-features"])
	}
	if flags["headless"] != true {
		t.Fatal("headless not passed through")
	}
	for name := range flags {
		if name == "exclude-switches" {
			t.Fatal("exclude-switches is a driver capability, not a Chrome switch")
		}
	}
	if chromeFlags(false)["headless"] != false {
		t.Fatal("headless set when not asked for")
	}
}
