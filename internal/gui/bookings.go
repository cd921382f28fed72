package gui

import (
	"fmt"
	"image"
	"strconv"
	"sync"

	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"melon-ticket/internal/services"
)

// BookingsView lists the booking history, newest first.
type BookingsView struct {
	gui     *GUI
	history *services.History

	list         widget.List
	deleteAllBtn widget.Clickable
	refreshBtn   widget.Clickable

	mu       sync.Mutex
	bookings []services.Record
	err      error
}

func (bv *BookingsView) load() {
	if bv.history == nil {
		return
	}
	recs, err := bv.history.Load()

	bv.mu.Lock()
	bv.err = err
	bv.bookings = bv.bookings[:0]
	for i := len(recs) - 1; i >= 0; i-- {
		bv.bookings = append(bv.bookings, recs[i])
	}
	bv.mu.Unlock()
	bv.gui.invalidate()
}

func (bv *BookingsView) clear() {
	if bv.history == nil {
		return
	}
	if err := bv.history.Clear(); err != nil {
		bv.gui.log.Error("clearing bookings", "error", err)
	}
	bv.load()
}

func (bv *BookingsView) Layout(gtx C) D {
	if bv.refreshBtn.Clicked(gtx) {
		bv.load()
	}
	if bv.deleteAllBtn.Clicked(gtx) {
		bv.clear()
	}

	bv.mu.Lock()
	defer bv.mu.Unlock()

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx C) D {
			return layout.UniformInset(unit.Dp(24)).Layout(gtx, func(gtx C) D {
				return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
					layout.Flexed(1, func(gtx C) D {
						label := material.H4(bv.gui.th, fmt.Sprintf("🎫 Bookings (%d)", len(bv.bookings)))
						label.Color = accentColor
						return label.Layout(gtx)
					}),
					layout.Rigid(func(gtx C) D {
						btn := material.Button(bv.gui.th, &bv.refreshBtn, "🔄 Refresh")
						btn.Background = accentColor
						btn.Color = bgColor
						btn.CornerRadius = unit.Dp(8)
						return layout.Inset{Right: unit.Dp(12)}.Layout(gtx, btn.Layout)
					}),
					layout.Rigid(func(gtx C) D {
						if len(bv.bookings) == 0 {
							return D{}
						}
						btn := material.Button(bv.gui.th, &bv.deleteAllBtn, "🗑️ Delete All")
						btn.Background = dangerColor
						btn.Color = bgColor
						btn.CornerRadius = unit.Dp(8)
						return btn.Layout(gtx)
					}),
				)
			})
		}),
		layout.Flexed(1, func(gtx C) D {
			return layout.Inset{Left: unit.Dp(24), Right: unit.Dp(24), Bottom: unit.Dp(24)}.Layout(gtx, func(gtx C) D {
				if len(bv.bookings) == 0 {
					return bv.layoutEmptyState(gtx)
				}

				bv.list.Axis = layout.Vertical
				return material.List(bv.gui.th, &bv.list).Layout(gtx, len(bv.bookings), func(gtx C, i int) D {
					return layout.Inset{Bottom: unit.Dp(16)}.Layout(gtx, func(gtx C) D {
						return bv.layoutBookingCard(gtx, bv.bookings[i])
					})
				})
			})
		}),
	)
}

func (bv *BookingsView) layoutEmptyState(gtx C) D {
	return widget.Border{
		Color:        borderColor,
		Width:        unit.Dp(1),
		CornerRadius: unit.Dp(12),
	}.Layout(gtx, func(gtx C) D {
		defer clip.UniformRRect(image.Rectangle{Max: gtx.Constraints.Max}, gtx.Dp(unit.Dp(12))).Push(gtx.Ops).Pop()
		paint.Fill(gtx.Ops, cardBg)

		text := "No bookings yet"
		if bv.err != nil {
			text = bv.err.Error()
		}
		return layout.Center.Layout(gtx, func(gtx C) D {
			return layout.Flex{Axis: layout.Vertical, Alignment: layout.Middle}.Layout(gtx,
				layout.Rigid(func(gtx C) D {
					label := material.H6(bv.gui.th, "📭")
					label.TextSize = unit.Sp(48)
					return label.Layout(gtx)
				}),
				layout.Rigid(func(gtx C) D {
					label := material.Body1(bv.gui.th, text)
					label.Color = disabledColor
					return layout.Inset{Top: unit.Dp(12)}.Layout(gtx, label.Layout)
				}),
			)
		})
	})
}

func (bv *BookingsView) layoutBookingCard(gtx C, rec services.Record) D {
	g := bv.gui
	outcomeColor := successColor
	if rec.Outcome != services.BookingSubmitted.String() {
		outcomeColor = runningColor
	}

	return g.card(gtx, func(gtx C) D {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx C) D {
				return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
					layout.Flexed(1, func(gtx C) D {
						label := material.H6(g.th, "🎟️ Performance "+rec.ProdID)
						label.Color = accentColor
						label.TextSize = unit.Sp(16)
						return label.Layout(gtx)
					}),
					layout.Rigid(func(gtx C) D {
						label := material.Body2(g.th, rec.Outcome)
						label.Color = outcomeColor
						return label.Layout(gtx)
					}),
				)
			}),
			layout.Rigid(func(gtx C) D {
				return layout.Inset{Top: unit.Dp(12), Bottom: unit.Dp(12)}.Layout(gtx, func(gtx C) D {
					size := image.Point{X: gtx.Constraints.Max.X, Y: gtx.Dp(unit.Dp(1))}
					paint.FillShape(gtx.Ops, borderColor, clip.Rect{Max: size}.Op())
					return D{Size: size}
				})
			}),
			layout.Rigid(func(gtx C) D {
				return g.layoutInfoRow(gtx, "📅 Date #", strconv.Itoa(rec.DateIndex))
			}),
			layout.Rigid(func(gtx C) D {
				return g.layoutInfoRow(gtx, "🕐 Time #", strconv.Itoa(rec.TimeIndex))
			}),
			layout.Rigid(func(gtx C) D {
				return g.layoutInfoRow(gtx, "⏱ Booked At", rec.At.Local().Format("2006-01-02 15:04:05"))
			}),
		)
	})
}
