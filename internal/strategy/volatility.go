package strategy

import (
	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/selector"
)

// LongStraddle buys a call and a put at the same PctTarget.
func LongStraddle(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindLongStraddle, eps, c, p)
	if err != nil {
		return nil, err
	}
	call := b.pct(market.Call, p.PctTarget, p.DTE)
	put := b.pct(market.Put, p.PctTarget, p.DTE)
	return b.finish(nil, long(call, 1), long(put, 1))
}

// IronCondor sells a put and a call and buys cheaper wings outside them.
func IronCondor(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindIronCondor, eps, c, p)
	if err != nil {
		return nil, err
	}
	sp := b.pct(market.Put, p.PctShortPut, p.DTE)
	lp := b.pct(market.Put, p.PctLongPut, p.DTE)
	sc := b.pct(market.Call, p.PctShortCall, p.DTE)
	lc := b.pct(market.Call, p.PctLongCall, p.DTE)
	return b.finish(func(tid int) bool {
		return !cheaper(lp[tid].Price, sp[tid].Price) ||
			!cheaper(lc[tid].Price, sc[tid].Price) ||
			!strikeBelow(lp[tid].Strike, sp[tid].Strike) ||
			!strikeAbove(lc[tid].Strike, sc[tid].Strike) ||
			!strikeBelow(sp[tid].Strike, sc[tid].Strike)
	}, short(sp, 1), long(lp, 1), short(sc, 1), long(lc, 1))
}

// JadeLizard sells a put and a bear call spread.
func JadeLizard(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindJadeLizard, eps, c, p)
	if err != nil {
		return nil, err
	}
	sp := b.pct(market.Put, p.PctShortPut, p.DTE)
	sc := b.pct(market.Call, p.PctShortCall, p.DTE)
	lc := b.pct(market.Call, p.PctLongCall, p.DTE)
	return b.finish(func(tid int) bool {
		return !cheaper(lc[tid].Price, sc[tid].Price) || !strikeAbove(lc[tid].Strike, sc[tid].Strike)
	}, short(sp, 1), short(sc, 1), long(lc, 1))
}

// CallSplitStrangle sells a call at PctTarget and spends the premium on an
// out-of-the-money call and an out-of-the-money put, each targeting half of
// it. The spot used for the strike sides is implied by the short call.
func CallSplitStrangle(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindCallSplitStrangle, eps, c, p)
	if err != nil {
		return nil, err
	}
	sc := b.pct(market.Call, p.PctTarget, p.DTE)
	reqs := b.derived(sc, p.DTE, halfPremium)

	// Out of the money: call strike above spot, put strike below it.
	lc := b.pick(selector.Options{
		OptionType: market.Call,
		Target:     selector.ByPrice,
		Accept:     func(_ selector.Request, q market.OptionQuote) bool { return q.PctFromStrike < 0 },
	}, reqs)
	lp := b.pick(selector.Options{
		OptionType: market.Put,
		Target:     selector.ByPrice,
		Accept:     func(_ selector.Request, q market.OptionQuote) bool { return q.PctFromStrike > 0 },
	}, reqs)

	return b.finish(func(tid int) bool {
		s, call, put := sc[tid], lc[tid], lp[tid]
		if call.Price+put.Price > s.Price {
			return true
		}
		// Strike sides are only checked where spot and strike are known.
		spot := s.Spot()
		if !missing(call.Strike, spot) && !strikeAbove(call.Strike, spot) {
			return true
		}
		return !missing(put.Strike, spot) && !strikeBelow(put.Strike, spot)
	}, short(sc, 1), long(lc, 1), long(lp, 1))
}
