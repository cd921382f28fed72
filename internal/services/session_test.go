package services

import (
	"context"
	"errors"
	"testing"
)

func TestLogin(t *testing.T) {
	f := newFakeBrowser()
	s := newTestSession(t, f, nil)

	if !s.Login(context.Background(), "fan@example.com", "pw") {
		t.Fatal("Login = false, want true")
	}
	for _, call := range []string{
		"navigate " + LoginURL,
		"set " + emailInput + " fan@example.com",
		"set " + passwordInput + " pw",
		"script " + loginButton + " 0",
	} {
		if !f.has(call) {
			t.Fatalf("missing call %q in %q", call, f.calls)
		}
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeBrowser)
	}{
		{"no redirect", func(f *fakeBrowser) { f.loginOK = false }},
		{"no form", func(f *fakeBrowser) { delete(f.present, emailInput) }},
		{"button gone", func(f *fakeBrowser) { delete(f.present, loginButton) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBrowser()
			tt.setup(f)
			logs := &logLines{}
			s := newTestSession(t, f, logs)

			if s.Login(context.Background(), "fan", "pw") {
				t.Fatal("Login = true, want false")
			}
			if logs.count("login failed") != 1 {
				t.Fatalf("failure not logged: %q", logs.lines)
			}
		})
	}
}

func TestSelectPerformance(t *testing.T) {
	f := newFakeBrowser()
	s := newTestSession(t, f, nil)

	if !s.SelectPerformance(context.Background(), "210544") {
		t.Fatal("SelectPerformance = false")
	}
	if !f.has("navigate " + PerformanceURL + "210544") {
		t.Fatalf("calls = %q", f.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s.SelectPerformance(ctx, "210544") {
		t.Fatal("SelectPerformance = true after a failed navigation")
	}
}

func TestHasAvailableTicket(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeBrowser)
		want  bool
	}{
		{"enabled", func(f *fakeBrowser) {}, true},
		{"missing", func(f *fakeBrowser) { delete(f.present, availabilityButton) }, false},
		{"disabled class", func(f *fakeBrowser) {
			f.attrs[availabilityButton+"/class"] = "reservationBtn disabled"
		}, false},
		{"not enabled", func(f *fakeBrowser) { f.disabled[availabilityButton] = true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBrowser().bookable()
			tt.setup(f)
			s := newTestSession(t, f, nil)
			if got := s.HasAvailableTicket(context.Background()); got != tt.want {
				t.Fatalf("HasAvailableTicket = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAvailability_ReportsBrokenPage(t *testing.T) {
	f := newFakeBrowser().bookable()
	crash := errors.New("tab crashed")
	f.waits[availabilityButton] = func() (int, error) { return 0, crash }
	s := newTestSession(t, f, nil)

	ok, err := s.checkAvailability(context.Background())
	if ok || !errors.Is(err, crash) {
		t.Fatalf("checkAvailability = %v, %v; want the page error", ok, err)
	}
	if s.HasAvailableTicket(context.Background()) {
		t.Fatal("HasAvailableTicket = true on a broken page")
	}
}

func TestSessionClose_Idempotent(t *testing.T) {
	f := newFakeBrowser()
	s := newTestSession(t, f, nil)
	for i := 0; i < 2; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	}
	if f.closeCount() != 1 {
		t.Fatalf("browser closed %d times, want 1", f.closeCount())
	}
}
