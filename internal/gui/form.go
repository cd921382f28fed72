package gui

import (
	"strconv"
	"strings"

	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
	"melon-ticket/internal/config"
)

type Dropdown struct {
	Options    []string
	selected   int
	clickable  widget.Clickable
	isOpen     bool
	clickables []widget.Clickable
}

func (d *Dropdown) Selected() string {
	if d.selected < 0 || d.selected >= len(d.Options) {
		return ""
	}
	return d.Options[d.selected]
}

// Select picks the option equal to value, keeping the current choice when
// there is none.
func (d *Dropdown) Select(value string) {
	for i, o := range d.Options {
		if o == value {
			d.selected = i
			return
		}
	}
}

func (d *Dropdown) Layout(gtx C, th *material.Theme) D {
	if d.clickable.Clicked(gtx) {
		d.isOpen = !d.isOpen
	}
	if len(d.clickables) != len(d.Options) {
		d.clickables = make([]widget.Clickable, len(d.Options))
	}
	for i := range d.Options {
		if d.clickables[i].Clicked(gtx) {
			d.selected = i
			d.isOpen = false
		}
	}

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx C) D {
			border := widget.Border{
				Color:        borderColor,
				CornerRadius: unit.Dp(8),
				Width:        unit.Dp(1),
			}
			return border.Layout(gtx, func(gtx C) D {
				return d.clickable.Layout(gtx, func(gtx C) D {
					return layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx C) D {
						return material.Body1(th, d.Selected()+"  ▾").Layout(gtx)
					})
				})
			})
		}),
		layout.Rigid(func(gtx C) D {
			if !d.isOpen {
				return D{}
			}
			macro := op.Record(gtx.Ops)
			dims := layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx C) D {
				var children []layout.FlexChild
				for i := range d.Options {
					index := i
					children = append(children, layout.Rigid(func(gtx C) D {
						return layout.Inset{Bottom: unit.Dp(4)}.Layout(gtx,
							material.Button(th, &d.clickables[index], d.Options[index]).Layout)
					}))
				}
				return layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
			})
			call := macro.Stop()
			paint.FillShape(gtx.Ops, cardBg, clip.Rect{Max: dims.Size}.Op())
			call.Add(gtx.Ops)
			return dims
		}),
	)
}

// Form holds the editable settings of one run.
type Form struct {
	username      widget.Editor
	password      widget.Editor
	browserKind   Dropdown
	browserPath   widget.Editor
	driverPath    widget.Editor
	headless      widget.Bool
	prodID        widget.Editor
	interval      widget.Editor
	dateIndex     widget.Editor
	timeIndex     widget.Editor
	captchaMode   Dropdown
	tesseractPath widget.Editor
	ocrAPIKey     widget.Editor
	startAt       widget.Editor
}

func newForm() *Form {
	f := &Form{
		username:      widget.Editor{SingleLine: true, Submit: true},
		password:      widget.Editor{SingleLine: true, Submit: true, Mask: '•'},
		browserKind:   Dropdown{Options: []string{string(browser.Firefox), string(browser.Chrome)}},
		browserPath:   widget.Editor{SingleLine: true},
		driverPath:    widget.Editor{SingleLine: true},
		prodID:        widget.Editor{SingleLine: true},
		interval:      widget.Editor{SingleLine: true, Filter: "0123456789"},
		dateIndex:     widget.Editor{SingleLine: true, Filter: "0123456789"},
		timeIndex:     widget.Editor{SingleLine: true, Filter: "0123456789"},
		captchaMode:   Dropdown{Options: captcha.Labels()},
		tesseractPath: widget.Editor{SingleLine: true},
		ocrAPIKey:     widget.Editor{SingleLine: true, Mask: '•'},
		startAt:       widget.Editor{SingleLine: true},
	}
	f.SetConfig(config.Default())
	return f
}

// SetConfig fills the form from cfg.
func (f *Form) SetConfig(cfg config.Config) {
	cfg.Normalize()
	f.username.SetText(cfg.Username)
	f.password.SetText(cfg.Password)
	f.browserKind.Select(string(cfg.BrowserType))
	f.browserPath.SetText(cfg.BrowserPath)
	f.driverPath.SetText(cfg.DriverPath)
	f.headless.Value = cfg.Headless
	f.prodID.SetText(cfg.ProdID)
	f.interval.SetText(strconv.Itoa(cfg.RefreshInterval))
	f.dateIndex.SetText(strconv.Itoa(cfg.DateIndex))
	f.timeIndex.SetText(strconv.Itoa(cfg.TimeIndex))
	f.captchaMode.Select(cfg.CaptchaMode.Label())
	f.tesseractPath.SetText(cfg.TesseractPath)
	f.ocrAPIKey.SetText(cfg.OCRAPIKey)
	f.startAt.SetText(cfg.StartAt)
}

// Config reads the form back. Out of range numbers are clamped.
func (f *Form) Config() config.Config {
	cfg := config.Config{
		BrowserType:     browser.Kind(f.browserKind.Selected()),
		BrowserPath:     strings.TrimSpace(f.browserPath.Text()),
		DriverPath:      strings.TrimSpace(f.driverPath.Text()),
		Headless:        f.headless.Value,
		Username:        strings.TrimSpace(f.username.Text()),
		Password:        f.password.Text(),
		ProdID:          f.prodID.Text(),
		RefreshInterval: atoi(f.interval.Text()),
		DateIndex:       atoi(f.dateIndex.Text()),
		TimeIndex:       atoi(f.timeIndex.Text()),
		CaptchaMode:     captcha.ModeFromLabel(f.captchaMode.Selected()),
		TesseractPath:   strings.TrimSpace(f.tesseractPath.Text()),
		OCRAPIKey:       strings.TrimSpace(f.ocrAPIKey.Text()),
		StartAt:         f.startAt.Text(),
	}
	cfg.Normalize()
	return cfg
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func (g *GUI) layoutForm(gtx C) D {
	f := g.form
	return layout.Inset{Left: unit.Dp(24), Right: unit.Dp(24), Bottom: unit.Dp(16)}.Layout(gtx, func(gtx C) D {
		return g.card(gtx, func(gtx C) D {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutFormRow(gtx, "Username", &f.username) },
						func(gtx C) D { return g.layoutFormRow(gtx, "Password", &f.password) },
					)
				}),
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutDropdownRow(gtx, "Browser", &f.browserKind) },
						func(gtx C) D {
							return layout.Inset{Top: unit.Dp(22)}.Layout(gtx, func(gtx C) D {
								cb := material.CheckBox(g.th, &f.headless, "Headless")
								cb.Color = textColor
								cb.IconColor = accentColor
								return cb.Layout(gtx)
							})
						},
					)
				}),
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutFormRow(gtx, "Browser Path", &f.browserPath) },
						func(gtx C) D { return g.layoutFormRow(gtx, "Driver Path", &f.driverPath) },
					)
				}),
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutFormRow(gtx, "Performance ID", &f.prodID) },
						func(gtx C) D { return g.layoutFormRow(gtx, "Refresh Interval (s, 1-10)", &f.interval) },
					)
				}),
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutFormRow(gtx, "Date # (1-10)", &f.dateIndex) },
						func(gtx C) D { return g.layoutFormRow(gtx, "Time # (1-10)", &f.timeIndex) },
					)
				}),
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutDropdownRow(gtx, "Captcha", &f.captchaMode) },
						func(gtx C) D { return g.layoutFormRow(gtx, "Start At (YYYY-MM-DD HH:MM)", &f.startAt) },
					)
				}),
				layout.Rigid(func(gtx C) D {
					return g.layoutColumns(gtx,
						func(gtx C) D { return g.layoutFormRow(gtx, "Tesseract Path", &f.tesseractPath) },
						func(gtx C) D { return g.layoutFormRow(gtx, "OCR.space API Key", &f.ocrAPIKey) },
					)
				}),
			)
		})
	})
}

func (g *GUI) layoutColumns(gtx C, left, right layout.Widget) D {
	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		layout.Flexed(1, left),
		layout.Rigid(layout.Spacer{Width: unit.Dp(20)}.Layout),
		layout.Flexed(1, right),
	)
}

func (g *GUI) layoutFormRow(gtx C, label string, editor *widget.Editor) D {
	return layout.Inset{Bottom: unit.Dp(14)}.Layout(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx C) D {
				l := material.Caption(g.th, label)
				l.Color = purpleAccent
				l.TextSize = unit.Sp(13)
				return layout.Inset{Bottom: unit.Dp(6)}.Layout(gtx, l.Layout)
			}),
			layout.Rigid(func(gtx C) D {
				ed := material.Editor(g.th, editor, "")
				ed.Color = textColor
				ed.HintColor = disabledColor
				if g.frame.running || g.frame.loggingIn {
					gtx = gtx.Disabled()
				}
				return ed.Layout(gtx)
			}),
		)
	})
}

func (g *GUI) layoutDropdownRow(gtx C, label string, d *Dropdown) D {
	return layout.Inset{Bottom: unit.Dp(14)}.Layout(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx C) D {
				l := material.Caption(g.th, label)
				l.Color = purpleAccent
				l.TextSize = unit.Sp(13)
				return layout.Inset{Bottom: unit.Dp(6)}.Layout(gtx, l.Layout)
			}),
			layout.Rigid(func(gtx C) D {
				if g.frame.running || g.frame.loggingIn {
					gtx = gtx.Disabled()
				}
				return d.Layout(gtx, g.th)
			}),
		)
	})
}
