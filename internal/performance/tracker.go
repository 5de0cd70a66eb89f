package performance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"
)

var ErrRunNotFound = errors.New("backtest run not found")

// Tracker computes performance metrics for stored backtest runs.
type Tracker struct {
	db *sqlx.DB
}

func NewTracker(db *sqlx.DB) *Tracker {
	return &Tracker{db: db}
}

// Report summarizes a run over each trade's final row.
type Report struct {
	RunID          string
	Episodes       int
	Trades         int
	Winners        int
	WinRate        float64
	TotalPnL       float64
	TotalCost      float64
	ROI            float64
	AvgPnLPct      float64
	AvgHoldingDays float64
	// MaxDrawdown is the largest drop of cumulative PnL ordered by sell date.
	MaxDrawdown   float64
	StrategyStats map[string]StrategyStats
}

// StrategyStats contains per-strategy performance.
type StrategyStats struct {
	Trades         int
	PnL            float64
	WinRate        float64
	AvgPnLPct      float64
	AvgHoldingDays float64
	UnboundedRisk  int
}

// LatestRun returns the id of the most recently finished run.
func (t *Tracker) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := t.db.GetContext(ctx, &id, `SELECT id FROM backtest_runs ORDER BY finished_at DESC, started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}

// Generate computes the full performance report for one run.
func (t *Tracker) Generate(ctx context.Context, runID string) (*Report, error) {
	r := &Report{
		RunID:         runID,
		StrategyStats: make(map[string]StrategyStats),
	}

	err := t.db.GetContext(ctx, &r.Episodes, `SELECT episodes FROM backtest_runs WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	if err := t.computeOverall(ctx, r); err != nil {
		return nil, fmt.Errorf("computing overall stats: %w", err)
	}
	if err := t.computeStrategyStats(ctx, r); err != nil {
		return nil, fmt.Errorf("computing strategy stats: %w", err)
	}
	if err := t.computeDrawdown(ctx, r); err != nil {
		return nil, fmt.Errorf("computing drawdown: %w", err)
	}

	return r, nil
}

// finalRows restricts trade_results to each trade's sell-date row.
const finalRows = `FROM trade_results WHERE run_id = ? AND date = sell_date`

func (t *Tracker) computeOverall(ctx context.Context, r *Report) error {
	var row struct {
		Trades      int             `db:"trades"`
		Winners     int             `db:"winners"`
		PnL         float64         `db:"pnl"`
		Cost        float64         `db:"cost"`
		AvgPnLPct   sql.NullFloat64 `db:"avg_pnl_pct"`
		AvgHoldDays sql.NullFloat64 `db:"avg_holding_days"`
	}
	err := t.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS trades,
		       COALESCE(SUM(CASE WHEN trade_pnl > 0 THEN 1 ELSE 0 END), 0) AS winners,
		       COALESCE(SUM(trade_pnl), 0) AS pnl,
		       COALESCE(SUM(ABS(trade_cost)), 0) AS cost,
		       AVG(trade_pnl_pct) AS avg_pnl_pct,
		       AVG(holding_days) AS avg_holding_days
		`+finalRows, r.RunID)
	if err != nil {
		return err
	}

	r.Trades = row.Trades
	r.Winners = row.Winners
	r.TotalPnL = row.PnL
	r.TotalCost = row.Cost
	r.AvgPnLPct = row.AvgPnLPct.Float64
	r.AvgHoldingDays = row.AvgHoldDays.Float64
	if r.TotalCost > 0 {
		r.ROI = r.TotalPnL / r.TotalCost
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Winners) / float64(r.Trades)
	}
	return nil
}

func (t *Tracker) computeStrategyStats(ctx context.Context, r *Report) error {
	rows, err := t.db.QueryxContext(ctx, `
		SELECT strategy, COUNT(*), COALESCE(SUM(trade_pnl), 0),
		       COALESCE(SUM(CASE WHEN trade_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(trade_pnl_pct), 0),
		       COALESCE(AVG(holding_days), 0),
		       COALESCE(SUM(unbounded_risk), 0)
		FROM trade_results
		WHERE run_id = ? AND date = sell_date
		GROUP BY strategy`, r.RunID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var stats StrategyStats
		var wins int
		if err := rows.Scan(&name, &stats.Trades, &stats.PnL, &wins, &stats.AvgPnLPct,
			&stats.AvgHoldingDays, &stats.UnboundedRisk); err != nil {
			return err
		}
		if stats.Trades > 0 {
			stats.WinRate = float64(wins) / float64(stats.Trades)
		}
		r.StrategyStats[name] = stats
	}
	return rows.Err()
}

func (t *Tracker) computeDrawdown(ctx context.Context, r *Report) error {
	var pnls []sql.NullFloat64
	err := t.db.SelectContext(ctx, &pnls, `SELECT trade_pnl `+finalRows+` ORDER BY sell_date, strategy, trade_filter_id`, r.RunID)
	if err != nil {
		return err
	}

	var equity, peak, maxDD float64
	for _, p := range pnls {
		if p.Valid {
			equity += p.Float64
		}
		peak = math.Max(peak, equity)
		maxDD = math.Max(maxDD, peak-equity)
	}
	r.MaxDrawdown = maxDD
	return nil
}
