package strategy

import (
	"optbacktest/internal/episode"
	"optbacktest/internal/market"
)

// LongCall buys one call at PctTarget.
func LongCall(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindLongCall, eps, c, p)
	if err != nil {
		return nil, err
	}
	call := b.pct(market.Call, p.PctTarget, p.DTE)
	return b.finish(nil, long(call, 1))
}

// LongPut buys one put at PctTarget.
func LongPut(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindLongPut, eps, c, p)
	if err != nil {
		return nil, err
	}
	put := b.pct(market.Put, p.PctTarget, p.DTE)
	return b.finish(nil, long(put, 1))
}

// BullCallDebitSpread buys a call at PctLong and sells a higher-strike call at
// PctShort.
func BullCallDebitSpread(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindBullCallDebitSpread, eps, c, p)
	if err != nil {
		return nil, err
	}
	lc := b.pct(market.Call, p.PctLong, p.DTE)
	sc := b.pct(market.Call, p.PctShort, p.DTE)
	return b.finish(func(tid int) bool {
		l, s := lc[tid], sc[tid]
		return !dearer(l.Price, s.Price) || !strikeAbove(s.Strike, l.Strike)
	}, long(lc, 1), short(sc, 1))
}

// BearPutDebitSpread buys a put at PctLong and sells a lower-strike put at
// PctShort.
func BearPutDebitSpread(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindBearPutDebitSpread, eps, c, p)
	if err != nil {
		return nil, err
	}
	lp := b.pct(market.Put, p.PctLong, p.DTE)
	sp := b.pct(market.Put, p.PctShort, p.DTE)
	return b.finish(func(tid int) bool {
		l, s := lp[tid], sp[tid]
		return !dearer(l.Price, s.Price) || !strikeAbove(l.Strike, s.Strike)
	}, long(lp, 1), short(sp, 1))
}

// BullPutCreditSpread sells a put at PctShort and buys a cheaper lower-strike
// wing at PctLong.
func BullPutCreditSpread(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindBullPutCreditSpread, eps, c, p)
	if err != nil {
		return nil, err
	}
	sp := b.pct(market.Put, p.PctShort, p.DTE)
	lp := b.pct(market.Put, p.PctLong, p.DTE)
	return b.finish(func(tid int) bool {
		s, l := sp[tid], lp[tid]
		return !cheaper(l.Price, s.Price) || !strikeBelow(l.Strike, s.Strike)
	}, short(sp, 1), long(lp, 1))
}

// BearCallCreditSpread sells a call at PctShort and buys a cheaper
// higher-strike wing at PctLong.
func BearCallCreditSpread(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindBearCallCreditSpread, eps, c, p)
	if err != nil {
		return nil, err
	}
	sc := b.pct(market.Call, p.PctShort, p.DTE)
	lc := b.pct(market.Call, p.PctLong, p.DTE)
	return b.finish(func(tid int) bool {
		s, l := sc[tid], lc[tid]
		return !cheaper(l.Price, s.Price) || !strikeAbove(l.Strike, s.Strike)
	}, short(sc, 1), long(lc, 1))
}

// BullPutCreditSpreadTailPut is a bull put credit spread plus TailQty far
// out-of-the-money puts at PctTail. Strikes must order tail < long < short.
func BullPutCreditSpreadTailPut(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindBullPutCreditSpreadTailPut, eps, c, p)
	if err != nil {
		return nil, err
	}
	sp := b.pct(market.Put, p.PctShort, p.DTE)
	lp := b.pct(market.Put, p.PctLong, p.DTE)
	tp := b.pct(market.Put, p.PctTail, p.DTE)
	return b.finish(func(tid int) bool {
		s, l, t := sp[tid], lp[tid], tp[tid]
		return !cheaper(l.Price, s.Price) ||
			!cheaper(t.Price, s.Price) ||
			!strikeBelow(t.Strike, l.Strike) ||
			!strikeBelow(l.Strike, s.Strike)
	}, short(sp, 1), long(lp, 1), long(tp, b.p.TailQty))
}

// BearPutDebitSpreadTailPut is a bear put debit spread plus TailQty far
// out-of-the-money puts at PctTail. Strikes must order tail < short < long.
func BearPutDebitSpreadTailPut(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := newBuild(KindBearPutDebitSpreadTailPut, eps, c, p)
	if err != nil {
		return nil, err
	}
	lp := b.pct(market.Put, p.PctLong, p.DTE)
	sp := b.pct(market.Put, p.PctShort, p.DTE)
	tp := b.pct(market.Put, p.PctTail, p.DTE)
	return b.finish(func(tid int) bool {
		l, s, t := lp[tid], sp[tid], tp[tid]
		return !dearer(l.Price, s.Price) ||
			!cheaper(t.Price, s.Price) ||
			!strikeBelow(t.Strike, s.Strike) ||
			!strikeBelow(s.Strike, l.Strike)
	}, long(lp, 1), short(sp, 1), long(tp, b.p.TailQty))
}
