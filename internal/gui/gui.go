package gui

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"

	"gioui.org/app"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"melon-ticket/internal/config"
	"melon-ticket/internal/logging"
	"melon-ticket/internal/services"
)

type (
	C = layout.Context
	D = layout.Dimensions
)

var (
	bgColor       = color.NRGBA{R: 22, G: 24, B: 35, A: 255}
	sidebarBg     = color.NRGBA{R: 28, G: 30, B: 42, A: 255}
	cardBg        = color.NRGBA{R: 36, G: 39, B: 54, A: 255}
	borderColor   = color.NRGBA{R: 59, G: 66, B: 82, A: 255}
	textColor     = color.NRGBA{R: 229, G: 233, B: 240, A: 255}
	accentColor   = color.NRGBA{R: 136, G: 192, B: 208, A: 255}
	successColor  = color.NRGBA{R: 163, G: 190, B: 140, A: 255}
	runningColor  = color.NRGBA{R: 235, G: 203, B: 139, A: 255}
	dangerColor   = color.NRGBA{R: 191, G: 97, B: 106, A: 255}
	disabledColor = color.NRGBA{R: 129, G: 137, B: 153, A: 255}
	highlightBg   = color.NRGBA{R: 46, G: 52, B: 64, A: 255}
	purpleAccent  = color.NRGBA{R: 180, G: 142, B: 173, A: 255}
	logBg         = color.NRGBA{R: 18, G: 20, B: 28, A: 255}
	scrimColor    = color.NRGBA{A: 170}
)

// status is what the event goroutine tells the frame about the run.
type status struct {
	state     services.State
	running   bool
	stopping  bool
	loggingIn bool
	loggedIn  bool
	message   string
	failed    bool
}

type GUI struct {
	th         *material.Theme
	w          *app.Window
	coord      *services.Coordinator
	configPath string
	log        *slog.Logger

	form         *Form
	logView      *LogView
	bookingsView *BookingsView

	showBookings   bool
	runTabBtn      widget.Clickable
	bookingsTabBtn widget.Clickable
	startBtn       widget.Clickable
	stopBtn        widget.Clickable
	preLoginBtn    widget.Clickable

	mu      sync.Mutex
	st      status
	captcha *CaptchaDialog
	// closed is set once the window is going away. Captcha requests that
	// arrive after it are cancelled.
	closed bool

	// frame is st as of the current frame. Only the UI goroutine uses it.
	frame status
	quit  chan struct{}
}

// NewGUI builds the window state around coord. The form is filled from
// configPath.
func NewGUI(coord *services.Coordinator, configPath string) *GUI {
	th := material.NewTheme()
	th.Palette.Bg = bgColor
	th.Palette.Fg = textColor
	th.Palette.ContrastBg = accentColor
	th.Palette.ContrastFg = bgColor

	g := &GUI{
		th:         th,
		coord:      coord,
		configPath: configPath,
		form:       newForm(),
		logView:    &LogView{},
		quit:       make(chan struct{}),
	}
	g.logView.gui = g
	g.log = logging.ToSink(g.logView.Append, logging.Options{OmitTime: true})
	g.bookingsView = &BookingsView{gui: g, history: coord.History}

	cfg, err := config.Load(configPath)
	if err != nil {
		g.log.Warn("loading config", "path", configPath, "error", err)
	}
	config.ApplyEnv(&cfg)
	g.form.SetConfig(cfg)
	g.bookingsView.load()
	return g
}

func (g *GUI) Run() {
	g.w = new(app.Window)
	g.w.Option(
		app.Title("Melon Ticket"),
		app.Size(unit.Dp(1100), unit.Dp(820)),
	)

	go g.pumpEvents()
	go g.pumpCaptcha()
	go func() {
		err := g.loop()
		g.shutdown()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()
}

func (g *GUI) loop() error {
	var ops op.Ops
	for {
		switch e := g.w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			g.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

// shutdown saves the form, dismisses an open captcha prompt and closes
// every browser the coordinator still holds.
func (g *GUI) shutdown() {
	close(g.quit)
	if err := config.Save(g.configPath, g.form.Config()); err != nil {
		g.log.Error("saving config", "error", err)
	}
	g.dismissCaptcha()
	if err := g.coord.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "closing browsers:", err)
	}
}

func (g *GUI) invalidate() {
	if g.w != nil {
		g.w.Invalidate()
	}
}

func (g *GUI) update(fn func(st *status)) {
	g.mu.Lock()
	fn(&g.st)
	g.mu.Unlock()
	g.invalidate()
}

// pumpEvents drains the coordinator's event stream for the lifetime of the
// window.
func (g *GUI) pumpEvents() {
	for {
		select {
		case <-g.quit:
			return
		case ev := <-g.coord.Events():
			g.handle(ev)
		}
	}
}

func (g *GUI) handle(ev services.Event) {
	switch e := ev.(type) {
	case services.LogEvent:
		g.logView.Append(e.Line)
	case services.StatusEvent:
		g.update(func(st *status) {
			st.state = e.State
			st.running = !e.State.Terminal()
		})
	case services.DoneEvent:
		g.update(func(st *status) {
			st.state = e.Result.State
			st.running, st.stopping, st.loggedIn = false, false, false
			st.message, st.failed = doneMessage(e.Result)
		})
		if e.Result.State == services.StateSucceeded {
			g.bookingsView.load()
		}
	case services.PreLoginEvent:
		g.update(func(st *status) {
			st.loggingIn = false
			switch r := e.Result.(type) {
			case services.PreLoginSuccess:
				st.loggedIn, st.failed = true, false
				st.message = "Logged in. Press Start to begin polling."
			case services.PreLoginFailure:
				st.failed = true
				st.message = "Pre-login failed: " + r.Err.Error()
			}
		})
	}
}

func doneMessage(res services.Result) (string, bool) {
	switch res.State {
	case services.StateSucceeded:
		if res.Outcome == services.BookingUnconfirmed {
			return "Booking button pressed but the captcha was not submitted. Check the browser window.", false
		}
		return "Booking submitted. Finish payment in the browser window.", false
	case services.StateCancelled:
		return "Stopped.", false
	default:
		if res.Err != nil {
			return "Failed: " + res.Err.Error(), true
		}
		return "Failed.", true
	}
}

func (g *GUI) start() {
	cfg := g.form.Config()
	if err := config.Save(g.configPath, cfg); err != nil {
		g.log.Warn("saving config", "error", err)
	}
	err := g.coord.Start(cfg)
	g.update(func(st *status) {
		if err != nil {
			st.failed = true
			st.message = err.Error()
			if errors.Is(err, services.ErrAlreadyRunning) {
				st.message = "A run is already in progress."
			}
			return
		}
		st.running, st.failed, st.message = true, false, ""
	})
}

func (g *GUI) stop() {
	g.update(func(st *status) { st.stopping = true })
	go g.coord.Stop()
}

func (g *GUI) preLogin() {
	cfg := g.form.Config()
	if cfg.Username == "" || cfg.Password == "" {
		g.update(func(st *status) {
			st.failed = true
			st.message = "Enter a username and password first."
		})
		return
	}
	g.update(func(st *status) {
		st.loggingIn, st.failed = true, false
		st.message = "Logging in..."
	})
	go g.coord.PreLogin(context.Background(), services.SessionConfigFor(cfg))
}

func (g *GUI) Layout(gtx C) D {
	g.mu.Lock()
	g.frame = g.st
	dialog := g.captcha
	g.mu.Unlock()

	paint.Fill(gtx.Ops, bgColor)
	return layout.Stack{}.Layout(gtx,
		layout.Expanded(func(gtx C) D {
			return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
				layout.Rigid(g.layoutSidebar),
				layout.Flexed(1, g.layoutMain),
			)
		}),
		layout.Expanded(func(gtx C) D {
			if dialog == nil {
				return D{}
			}
			return dialog.Layout(gtx)
		}),
	)
}

func (g *GUI) layoutSidebar(gtx C) D {
	gtx.Constraints.Max.X = gtx.Dp(unit.Dp(240))
	gtx.Constraints.Min.X = gtx.Constraints.Max.X

	paint.FillShape(gtx.Ops, sidebarBg, clip.Rect{Max: gtx.Constraints.Max}.Op())

	return layout.UniformInset(unit.Dp(20)).Layout(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx C) D {
				label := material.H5(g.th, "🎫 Melon Ticket")
				label.Color = accentColor
				return layout.Inset{Bottom: unit.Dp(24)}.Layout(gtx, label.Layout)
			}),
			layout.Rigid(g.layoutTabButtons),
			layout.Rigid(g.layoutStatus),
		)
	})
}

func (g *GUI) layoutTabButtons(gtx C) D {
	if g.runTabBtn.Clicked(gtx) {
		g.showBookings = false
	}
	if g.bookingsTabBtn.Clicked(gtx) {
		g.showBookings = true
		g.bookingsView.load()
	}

	layoutTab := func(gtx C, btn *widget.Clickable, labelText string, selected bool) D {
		bg := cardBg
		txtColor := disabledColor
		if selected {
			bg = accentColor
			txtColor = bgColor
		}
		return btn.Layout(gtx, func(gtx C) D {
			gtx.Constraints.Min.Y = gtx.Dp(40)
			gtx.Constraints.Min.X = gtx.Constraints.Max.X
			rect := image.Rectangle{Max: image.Pt(gtx.Constraints.Max.X, gtx.Constraints.Min.Y)}
			defer clip.UniformRRect(rect, gtx.Dp(8)).Push(gtx.Ops).Pop()
			paint.Fill(gtx.Ops, bg)
			return layout.Center.Layout(gtx, func(gtx C) D {
				label := material.Body2(g.th, labelText)
				label.Color = txtColor
				return label.Layout(gtx)
			})
		})
	}

	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		layout.Flexed(1, func(gtx C) D { return layoutTab(gtx, &g.runTabBtn, "Run", !g.showBookings) }),
		layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
		layout.Flexed(1, func(gtx C) D { return layoutTab(gtx, &g.bookingsTabBtn, "Bookings", g.showBookings) }),
	)
}

func (g *GUI) layoutStatus(gtx C) D {
	st := g.frame
	dot, col := "○ Idle", disabledColor
	switch {
	case st.stopping:
		dot, col = "● Stopping", runningColor
	case st.running:
		dot, col = "● "+st.state.String(), runningColor
	case st.loggingIn:
		dot, col = "● Logging in", runningColor
	case st.loggedIn:
		dot, col = "● Logged in", successColor
	case st.state == services.StateSucceeded:
		dot, col = "● Booked", successColor
	case st.state == services.StateFailed:
		dot, col = "● Failed", dangerColor
	}

	return layout.Inset{Top: unit.Dp(24)}.Layout(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx C) D {
				l := material.Body1(g.th, dot)
				l.Color = col
				return l.Layout(gtx)
			}),
			layout.Rigid(func(gtx C) D {
				if st.message == "" {
					return D{}
				}
				l := material.Body2(g.th, st.message)
				l.Color = textColor
				if st.failed {
					l.Color = dangerColor
				}
				return layout.Inset{Top: unit.Dp(8)}.Layout(gtx, l.Layout)
			}),
		)
	})
}

func (g *GUI) layoutMain(gtx C) D {
	if g.showBookings {
		return g.bookingsView.Layout(gtx)
	}
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(g.layoutHeader),
		layout.Rigid(g.layoutForm),
		layout.Flexed(1, g.layoutLogs),
	)
}

func (g *GUI) layoutHeader(gtx C) D {
	st := g.frame
	if g.startBtn.Clicked(gtx) && !st.running && !st.loggingIn {
		g.start()
	}
	if g.stopBtn.Clicked(gtx) && st.running && !st.stopping {
		g.stop()
	}
	if g.preLoginBtn.Clicked(gtx) && !st.running && !st.loggingIn {
		g.preLogin()
	}

	button := func(gtx C, btn *widget.Clickable, text string, bg color.NRGBA, enabled bool) D {
		b := material.Button(g.th, btn, text)
		b.Background = bg
		b.Color = bgColor
		b.CornerRadius = unit.Dp(8)
		if !enabled {
			gtx = gtx.Disabled()
			b.Background = borderColor
		}
		return layout.Inset{Left: unit.Dp(12)}.Layout(gtx, b.Layout)
	}

	return layout.UniformInset(unit.Dp(24)).Layout(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
			layout.Flexed(1, func(gtx C) D {
				label := material.H4(g.th, "Booking")
				label.Color = accentColor
				return label.Layout(gtx)
			}),
			layout.Rigid(func(gtx C) D {
				return button(gtx, &g.preLoginBtn, "🔑 Pre-login", purpleAccent, !st.running && !st.loggingIn)
			}),
			layout.Rigid(func(gtx C) D {
				return button(gtx, &g.startBtn, "▶ Start", successColor, !st.running && !st.loggingIn)
			}),
			layout.Rigid(func(gtx C) D {
				return button(gtx, &g.stopBtn, "■ Stop", dangerColor, st.running && !st.stopping)
			}),
		)
	})
}

// card draws w on a rounded, bordered panel.
func (g *GUI) card(gtx C, w layout.Widget) D {
	return widget.Border{
		Color:        borderColor,
		Width:        unit.Dp(1),
		CornerRadius: unit.Dp(12),
	}.Layout(gtx, func(gtx C) D {
		macro := op.Record(gtx.Ops)
		dims := layout.UniformInset(unit.Dp(20)).Layout(gtx, w)
		call := macro.Stop()
		defer clip.UniformRRect(image.Rectangle{Max: dims.Size}, gtx.Dp(unit.Dp(12))).Push(gtx.Ops).Pop()
		paint.Fill(gtx.Ops, cardBg)
		call.Add(gtx.Ops)
		return dims
	})
}

func (g *GUI) layoutLogs(gtx C) D {
	return layout.Inset{Left: unit.Dp(24), Right: unit.Dp(24), Bottom: unit.Dp(24)}.Layout(gtx, func(gtx C) D {
		gtx.Constraints.Min = gtx.Constraints.Max
		return g.card(gtx, func(gtx C) D {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx C) D {
					label := material.Body1(g.th, "📋 LOGS")
					label.Color = accentColor
					label.TextSize = unit.Sp(14)
					return layout.Inset{Bottom: unit.Dp(12)}.Layout(gtx, label.Layout)
				}),
				layout.Flexed(1, g.logView.Layout),
			)
		})
	})
}

func (g *GUI) layoutInfoRow(gtx C, label, value string) D {
	if value == "" {
		return D{}
	}

	return layout.Inset{Bottom: unit.Dp(10)}.Layout(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
			layout.Rigid(func(gtx C) D {
				l := material.Body2(g.th, label)
				l.Color = purpleAccent
				l.TextSize = unit.Sp(13)
				return layout.Inset{Right: unit.Dp(12)}.Layout(gtx, func(gtx C) D {
					gtx.Constraints.Min.X = gtx.Dp(unit.Dp(110))
					return l.Layout(gtx)
				})
			}),
			layout.Flexed(1, func(gtx C) D {
				v := material.Body2(g.th, value)
				v.Color = textColor
				v.TextSize = unit.Sp(13)
				return v.Layout(gtx)
			}),
		)
	})
}
