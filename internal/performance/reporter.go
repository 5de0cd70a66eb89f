package performance

import (
	"log/slog"
	"sort"
)

// LogReport logs the performance report as structured JSON, strategies by name.
func LogReport(r *Report) {
	slog.Info("=== PERFORMANCE REPORT ===",
		"run_id", r.RunID,
		"episodes", r.Episodes,
		"trades", r.Trades,
		"winners", r.Winners,
		"win_rate", r.WinRate,
		"total_pnl", r.TotalPnL,
		"roi", r.ROI,
		"avg_pnl_pct", r.AvgPnLPct,
		"avg_holding_days", r.AvgHoldingDays,
		"max_drawdown", r.MaxDrawdown,
	)

	names := make([]string, 0, len(r.StrategyStats))
	for name := range r.StrategyStats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stats := r.StrategyStats[name]
		slog.Info("strategy performance",
			"strategy", name,
			"trades", stats.Trades,
			"pnl", stats.PnL,
			"win_rate", stats.WinRate,
			"avg_pnl_pct", stats.AvgPnLPct,
			"avg_holding_days", stats.AvgHoldingDays,
			"unbounded_risk", stats.UnboundedRisk,
		)
	}
}
