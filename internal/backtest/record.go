package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"optbacktest/internal/db"
	"optbacktest/internal/market"
	"optbacktest/internal/pnl"
)

// record writes the run, its episodes, positions and trade rows in one
// transaction.
func (r *Runner) record(ctx context.Context, res *Result) error {
	cfgJSON, err := json.Marshal(r.cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	var trades int
	for _, sr := range res.Strategies {
		trades += sr.Built()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, started_at, finished_at, config_json, episodes, trades)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID, res.StartedAt.Format(time.RFC3339), res.FinishedAt.Format(time.RFC3339),
		string(cfgJSON), len(res.Episodes), trades,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	epStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO episodes (run_id, trade_filter_id, ticker, start_date, end_date,
			start_price, end_price, days_to_threshold, move_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing episode insert: %w", err)
	}
	defer epStmt.Close()

	for i, e := range res.Episodes {
		_, err := epStmt.ExecContext(ctx, res.RunID, i, e.Ticker,
			e.StartDate.Format(market.DateLayout), e.EndDate.Format(market.DateLayout),
			db.NullFloat(e.StartPrice), db.NullFloat(e.EndPrice), e.DaysToThreshold, db.NullFloat(e.MovePct))
		if err != nil {
			return fmt.Errorf("inserting episode %d: %w", i, err)
		}
	}

	posStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (run_id, strategy, kind, id, date, trade_filter_id, ticker, quantity, direction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing position insert: %w", err)
	}
	defer posStmt.Close()

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_results (run_id, strategy, trade_filter_id, date, trade_date, sell_date,
			holding_days, trade_pnl, trade_cost, trade_value, trade_pnl_pct, max_trade_loss,
			max_trade_gain, unbounded_risk, unbounded_gain, gain_loss_ratio, trade_n_legs,
			trade_n_contracts, multi_ticker)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing trade insert: %w", err)
	}
	defer tradeStmt.Close()

	for _, sr := range res.Strategies {
		for _, p := range sr.Positions {
			_, err := posStmt.ExecContext(ctx, res.RunID, sr.Name, string(sr.Kind), string(p.ID),
				p.Date.Format(market.DateLayout), p.TradeID, p.Ticker, p.Quantity, string(p.Direction))
			if err != nil {
				return fmt.Errorf("inserting position %s for %s: %w", p.ID, sr.Name, err)
			}
		}
		for _, t := range sr.Trades {
			if _, err := tradeStmt.ExecContext(ctx, tradeArgs(res.RunID, sr.Name, t)...); err != nil {
				return fmt.Errorf("inserting trade %d for %s: %w", t.TradeID, sr.Name, err)
			}
		}
	}

	return tx.Commit()
}

func tradeArgs(runID, strategy string, t pnl.Trade) []any {
	return []any{
		runID, strategy, t.TradeID,
		t.Date.Format(market.DateLayout),
		t.TradeDate.Format(market.DateLayout),
		t.SellDate.Format(market.DateLayout),
		t.HoldingDays,
		db.NullFloat(t.PnL),
		db.NullFloat(t.Cost),
		db.NullFloat(t.Value),
		db.NullFloat(t.PnLPct),
		db.NullFloat(t.MaxLoss),
		db.NullFloat(t.MaxGain),
		boolToInt(t.UnboundedRisk),
		boolToInt(t.UnboundedGain),
		db.NullFloat(t.GainLossRatio),
		t.NLegs,
		db.NullFloat(t.NContracts),
		boolToInt(t.MultiTicker),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
