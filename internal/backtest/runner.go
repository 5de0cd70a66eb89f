// Package backtest runs every configured strategy over the stored price and
// option-chain tables and records positions and trade results per run.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"optbacktest/internal/chain"
	"optbacktest/internal/config"
	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/pnl"
	"optbacktest/internal/strategy"
)

// Recorder receives run metrics.
type Recorder interface {
	Episodes(n int)
	Strategy(name string, requested, built, stopped int, took time.Duration, finalPnLPct []float64)
}

type nopRecorder struct{}

func (nopRecorder) Episodes(int)                                             {}
func (nopRecorder) Strategy(string, int, int, int, time.Duration, []float64) {}

// Runner detects episodes, builds every enabled strategy against them and
// prices the resulting trades.
type Runner struct {
	db  *sqlx.DB
	cfg *config.Config
	rec Recorder
	now func() time.Time
}

// NewRunner returns a runner. rec may be nil.
func NewRunner(db *sqlx.DB, cfg *config.Config, rec Recorder) *Runner {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Runner{db: db, cfg: cfg, rec: rec, now: time.Now}
}

// StrategyResult is one strategy's output for a run.
type StrategyResult struct {
	Name      string
	Kind      strategy.Kind
	Positions []market.Position
	Trades    []pnl.Trade
	// Stopped lists trades ended early by stop-loss or take-profit.
	Stopped []int
	Took    time.Duration
}

// Built counts distinct trades among the positions.
func (s StrategyResult) Built() int {
	ids := make(map[int]struct{})
	for _, p := range s.Positions {
		ids[p.TradeID] = struct{}{}
	}
	return len(ids)
}

// Result is everything one run produced, strategies in config order.
type Result struct {
	RunID      string
	From, To   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Episodes   []episode.Episode
	Strategies []StrategyResult
}

// Run executes the backtest over [from, to]. Zero bounds are open. Quotes are
// loaded past to far enough to price every position until expiration.
func (r *Runner) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	if d := r.cfg.Backtest.Timeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res := &Result{RunID: uuid.NewString(), From: from, To: to, StartedAt: r.now().UTC()}
	slog.Info("backtest starting", "run_id", res.RunID,
		"from", formatDay(from), "to", formatDay(to), "strategies", len(r.cfg.Strategies))

	params, err := r.cfg.EpisodeParams()
	if err != nil {
		return nil, err
	}
	strategies, err := r.strategies()
	if err != nil {
		return nil, err
	}

	prices, err := loadPrices(ctx, r.db, from, to, r.cfg.Backtest.Tickers)
	if err != nil {
		return nil, fmt.Errorf("loading prices: %w", err)
	}
	res.Episodes, err = episode.Detect(prices, params)
	if err != nil {
		return nil, fmt.Errorf("detecting episodes: %w", err)
	}
	r.rec.Episodes(len(res.Episodes))
	slog.Info("episodes detected", "prices", len(prices), "episodes", len(res.Episodes))

	quoteTo := to
	if !to.IsZero() {
		quoteTo = to.AddDate(0, 0, int(math.Ceil(r.cfg.MaxDTE()))+1)
	}
	var quotes []market.OptionQuote
	if len(res.Episodes) > 0 {
		quotes, err = loadQuotes(ctx, r.db, from, quoteTo, episodeTickers(res.Episodes))
		if err != nil {
			return nil, fmt.Errorf("loading quotes: %w", err)
		}
	}
	c, err := market.NewChain(quotes)
	if err != nil {
		return nil, fmt.Errorf("indexing quotes: %w", err)
	}

	res.Strategies = make([]StrategyResult, len(strategies))
	opts := r.cfg.PnLOptions()

	g, gctx := errgroup.WithContext(ctx)
	if w := r.cfg.Backtest.Workers; w > 0 {
		g.SetLimit(w)
	}
	for i, s := range strategies {
		i, s := i, s
		g.Go(func() error {
			sr, err := evaluate(gctx, s, res.Episodes, c, opts)
			if err != nil {
				return fmt.Errorf("strategy %s: %w", s.Name(), err)
			}
			res.Strategies[i] = sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.FinishedAt = r.now().UTC()
	if err := r.record(ctx, res); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	var totalTrades int
	for _, sr := range res.Strategies {
		var finals []float64
		for _, t := range pnl.Final(sr.Trades) {
			finals = append(finals, t.PnLPct)
		}
		totalTrades += len(finals)
		r.rec.Strategy(sr.Name, len(res.Episodes), sr.Built(), len(sr.Stopped), sr.Took, finals)
	}

	slog.Info("=== BACKTEST RESULTS ===",
		"run_id", res.RunID,
		"period", fmt.Sprintf("%s to %s", formatDay(from), formatDay(to)),
		"episodes", len(res.Episodes),
		"strategies", len(res.Strategies),
		"trades", totalTrades,
		"elapsed", res.FinishedAt.Sub(res.StartedAt).String(),
	)
	for _, sr := range res.Strategies {
		slog.Info("strategy result",
			"strategy", sr.Name,
			"kind", sr.Kind,
			"requested", len(res.Episodes),
			"built", sr.Built(),
			"stopped", len(sr.Stopped),
		)
	}

	return res, nil
}

// strategies returns the enabled strategies in config order.
func (r *Runner) strategies() ([]strategy.Strategy, error) {
	var out []strategy.Strategy
	for _, sc := range r.cfg.Strategies {
		s, err := sc.Build()
		if err != nil {
			return nil, err
		}
		if !s.Enabled() {
			slog.Debug("strategy disabled", "strategy", s.Name())
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// evaluate builds one strategy and prices its trades.
func evaluate(ctx context.Context, s strategy.Strategy, eps []episode.Episode, c *market.Chain, opts pnl.Options) (StrategyResult, error) {
	start := time.Now()
	sr := StrategyResult{Name: s.Name(), Kind: s.Kind()}

	positions, err := s.Build(ctx, eps, c)
	if err != nil {
		return sr, fmt.Errorf("building positions: %w", err)
	}
	sr.Positions = positions

	keys := make([]chain.Key, len(positions))
	for i, p := range positions {
		keys[i] = chain.Key{ID: p.ID, EntryDate: p.Date}
	}
	marks := pnl.Attach(positions, chain.Join(keys, c), nil)

	if opts.Truncate {
		kept, err := pnl.Truncate(marks, opts)
		if err != nil {
			return sr, fmt.Errorf("truncating trades: %w", err)
		}
		sr.Stopped = pnl.Stopped(marks, kept)
	}
	sr.Trades, err = pnl.Trades(marks, opts)
	if err != nil {
		return sr, fmt.Errorf("pricing trades: %w", err)
	}

	sr.Took = time.Since(start)
	return sr, ctx.Err()
}

// episodeTickers narrows the quote load to tickers that have episodes.
func episodeTickers(eps []episode.Episode) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range eps {
		if !seen[e.Ticker] {
			seen[e.Ticker] = true
			out = append(out, e.Ticker)
		}
	}
	return out
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(market.DateLayout)
}
