package strategy

import (
	"math"

	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/selector"
)

// CallBackspread sells one call at PctTarget and buys two higher-strike calls
// priced near half of the short premium.
func CallBackspread(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	return backspread(KindCallBackspread, market.Call, eps, c, p)
}

// PutBackspread sells one put at PctTarget and buys two lower-strike puts
// priced near half of the short premium.
func PutBackspread(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	return backspread(KindPutBackspread, market.Put, eps, c, p)
}

func backspread(kind Kind, ot market.OptionType, eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(kind, eps, c, p)
	if err != nil {
		return nil, err
	}
	w := widthCap{ot: ot, abs: b.p.MaxStrikeWidth, pct: b.p.MaxStrikeWidthPct}

	sh := b.pct(ot, p.PctTarget, p.DTE)
	opts := selector.Options{OptionType: ot, Target: selector.ByPrice}
	if w.enabled() {
		opts.Accept = func(r selector.Request, q market.OptionQuote) bool {
			s := sh[r.TradeID]
			return b.p.PriceField.Value(q) < s.Price && w.ok(s.Strike, q.Strike)
		}
		opts.Secondary = func(r selector.Request, q market.OptionQuote) float64 {
			return w.tightness(sh[r.TradeID].Strike, q.Strike)
		}
	}
	lg := b.pick(opts, b.derived(sh, p.DTE, halfPremium))

	return b.finish(func(tid int) bool {
		s, l := sh[tid], lg[tid]
		if !cheaper(l.Price, s.Price) || !w.farther(s.Strike, l.Strike) {
			return true
		}
		return w.enabled() && !w.ok(s.Strike, l.Strike)
	}, short(sh, 1), long(lg, 2))
}

// widthCap bounds the distance between a backspread's short strike and its
// farther long strike.
type widthCap struct {
	ot  market.OptionType
	abs float64
	pct float64
}

func (w widthCap) enabled() bool { return w.abs > 0 || w.pct > 0 }

// width is positive when long sits farther out of the money than short.
func (w widthCap) width(shortK, longK float64) float64 {
	if w.ot == market.Call {
		return longK - shortK
	}
	return shortK - longK
}

func (w widthCap) farther(shortK, longK float64) bool {
	return w.width(shortK, longK) > 0
}

// ok requires known strikes, a positive width and every configured cap.
func (w widthCap) ok(shortK, longK float64) bool {
	width := w.width(shortK, longK)
	if math.IsNaN(width) || width <= 0 {
		return false
	}
	if w.abs > 0 && width > w.abs {
		return false
	}
	if w.pct > 0 {
		if shortK == 0 || !(width/shortK <= w.pct) {
			return false
		}
	}
	return true
}

// tightness orders candidates by percent width when that cap is set, else by
// absolute width.
func (w widthCap) tightness(shortK, longK float64) float64 {
	width := w.width(shortK, longK)
	if w.pct > 0 {
		return width / shortK
	}
	return width
}

// CallCalendar sells a call near DTEShort at PctTarget and buys the same
// strike near DTELong.
func CallCalendar(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindCallCalendar, eps, c, p)
	if err != nil {
		return nil, err
	}
	sc := b.pct(market.Call, p.PctTarget, p.DTEShort)
	lc := b.pick(selector.Options{OptionType: market.Call, Target: selector.ByPct},
		b.derived(sc, p.DTELong, func(r *selector.Request, s selector.Selection) {
			r.PctTarget = s.PctFromStrike
		}))
	return b.finish(func(tid int) bool {
		s, l := sc[tid], lc[tid]
		return !(l.DaysTillExpiration > s.DaysTillExpiration) || !strikeEqual(l.Strike, s.Strike)
	}, short(sc, 1), long(lc, 1))
}
