package gui

import (
	"image"
	"strings"

	"gioui.org/io/event"
	"gioui.org/io/key"
	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"melon-ticket/internal/captcha"
)

// CaptchaDialog shows one manual captcha request over the main window.
type CaptchaDialog struct {
	gui *GUI
	req *captcha.Request

	img     paint.ImageOp
	hasImg  bool
	input   widget.Editor
	okBtn   widget.Clickable
	skipBtn widget.Clickable
	focused bool
}

func newCaptchaDialog(g *GUI, req *captcha.Request) *CaptchaDialog {
	d := &CaptchaDialog{
		gui:   g,
		req:   req,
		input: widget.Editor{SingleLine: true, Submit: true},
	}
	if img, err := captcha.Decode(req.Image); err == nil {
		d.img = paint.NewImageOp(img)
		d.hasImg = true
	} else {
		g.log.Warn("captcha image not shown", "error", err)
	}
	return d
}

// pumpCaptcha shows each manual captcha request as it arrives.
func (g *GUI) pumpCaptcha() {
	requests := g.coord.Exchange().Requests()
	for {
		select {
		case <-g.quit:
			return
		case req := <-requests:
			g.showCaptcha(req)
		}
	}
}

func (g *GUI) showCaptcha(req *captcha.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		req.Cancel()
		return
	}
	g.captcha = newCaptchaDialog(g, req)
	g.mu.Unlock()
	g.invalidate()
}

// dismissCaptcha cancels the open prompt and refuses any later one.
func (g *GUI) dismissCaptcha() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.captcha != nil {
		g.captcha.req.Cancel()
		g.captcha = nil
	}
}

// finish answers the request, or cancels it when text is empty, and closes
// the dialog.
func (d *CaptchaDialog) finish(text string, ok bool) {
	text = strings.TrimSpace(text)
	if ok && text != "" {
		d.req.Answer(text)
	} else {
		d.req.Cancel()
	}
	d.gui.mu.Lock()
	if d.gui.captcha == d {
		d.gui.captcha = nil
	}
	d.gui.mu.Unlock()
	d.gui.invalidate()
}

func (d *CaptchaDialog) Layout(gtx C) D {
	for {
		ev, ok := d.input.Update(gtx)
		if !ok {
			break
		}
		if _, ok := ev.(widget.SubmitEvent); ok {
			d.finish(d.input.Text(), true)
			return D{Size: gtx.Constraints.Max}
		}
	}
	if d.okBtn.Clicked(gtx) {
		d.finish(d.input.Text(), true)
		return D{Size: gtx.Constraints.Max}
	}
	if d.skipBtn.Clicked(gtx) {
		d.finish("", false)
		return D{Size: gtx.Constraints.Max}
	}
	if !d.focused {
		gtx.Execute(key.FocusCmd{Tag: &d.input})
		d.focused = true
	}

	// Scrim, also swallowing pointer input meant for the form below.
	area := clip.Rect{Max: gtx.Constraints.Max}.Push(gtx.Ops)
	event.Op(gtx.Ops, d)
	paint.Fill(gtx.Ops, scrimColor)
	area.Pop()

	th := d.gui.th
	return layout.Center.Layout(gtx, func(gtx C) D {
		gtx.Constraints.Max.X = gtx.Dp(unit.Dp(420))
		gtx.Constraints.Min.X = gtx.Constraints.Max.X
		gtx.Constraints.Min.Y = 0
		return d.gui.card(gtx, func(gtx C) D {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx C) D {
					l := material.H6(th, "🔐 Enter Captcha")
					l.Color = accentColor
					return layout.Inset{Bottom: unit.Dp(16)}.Layout(gtx, l.Layout)
				}),
				layout.Rigid(func(gtx C) D {
					if !d.hasImg {
						l := material.Body2(th, "Image unavailable, read it from the browser window.")
						l.Color = disabledColor
						return layout.Inset{Bottom: unit.Dp(16)}.Layout(gtx, l.Layout)
					}
					return layout.Inset{Bottom: unit.Dp(16)}.Layout(gtx, func(gtx C) D {
						gtx.Constraints.Max.Y = gtx.Dp(unit.Dp(140))
						return layout.Center.Layout(gtx, widget.Image{Src: d.img, Fit: widget.Contain, Scale: 2}.Layout)
					})
				}),
				layout.Rigid(func(gtx C) D {
					return layout.Inset{Bottom: unit.Dp(16)}.Layout(gtx, func(gtx C) D {
						return widget.Border{Color: accentColor, Width: unit.Dp(1), CornerRadius: unit.Dp(6)}.Layout(gtx, func(gtx C) D {
							defer clip.UniformRRect(image.Rectangle{Max: gtx.Constraints.Max}, gtx.Dp(unit.Dp(6))).Push(gtx.Ops).Pop()
							paint.Fill(gtx.Ops, highlightBg)
							return layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx C) D {
								ed := material.Editor(th, &d.input, "Characters shown above")
								ed.Color = textColor
								ed.HintColor = disabledColor
								return ed.Layout(gtx)
							})
						})
					})
				}),
				layout.Rigid(func(gtx C) D {
					return layout.Flex{Axis: layout.Horizontal, Spacing: layout.SpaceStart}.Layout(gtx,
						layout.Rigid(func(gtx C) D {
							btn := material.Button(th, &d.skipBtn, "Cancel")
							btn.Background = borderColor
							btn.Color = textColor
							btn.CornerRadius = unit.Dp(8)
							return layout.Inset{Right: unit.Dp(12)}.Layout(gtx, btn.Layout)
						}),
						layout.Rigid(func(gtx C) D {
							btn := material.Button(th, &d.okBtn, "OK")
							btn.Background = successColor
							btn.Color = bgColor
							btn.CornerRadius = unit.Dp(8)
							return btn.Layout(gtx)
						}),
					)
				}),
			)
		})
	})
}
