package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS price_points (
    ticker TEXT NOT NULL,
    date TEXT NOT NULL,
    price REAL,
    PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS option_quotes (
    id TEXT NOT NULL,
    date TEXT NOT NULL,
    ticker TEXT NOT NULL,
    option_type TEXT NOT NULL,
    strike REAL,
    days_till_expiration REAL,
    last REAL,
    mark REAL,
    bid REAL,
    ask REAL,
    volume REAL,
    open_interest REAL,
    pct_from_strike REAL,
    PRIMARY KEY (id, date)
);

CREATE INDEX IF NOT EXISTS idx_option_quotes_ticker_date ON option_quotes(ticker, date);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    config_json TEXT NOT NULL,
    episodes INTEGER NOT NULL DEFAULT 0,
    trades INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS episodes (
    run_id TEXT NOT NULL REFERENCES backtest_runs(id),
    trade_filter_id INTEGER NOT NULL,
    ticker TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    start_price REAL,
    end_price REAL,
    days_to_threshold INTEGER NOT NULL,
    move_pct REAL,
    PRIMARY KEY (run_id, trade_filter_id)
);

CREATE TABLE IF NOT EXISTS positions (
    run_id TEXT NOT NULL REFERENCES backtest_runs(id),
    strategy TEXT NOT NULL,
    kind TEXT NOT NULL,
    id TEXT NOT NULL,
    date TEXT NOT NULL,
    trade_filter_id INTEGER NOT NULL,
    ticker TEXT NOT NULL,
    quantity REAL NOT NULL,
    direction TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_run ON positions(run_id, strategy);

CREATE TABLE IF NOT EXISTS trade_results (
    run_id TEXT NOT NULL REFERENCES backtest_runs(id),
    strategy TEXT NOT NULL,
    trade_filter_id INTEGER NOT NULL,
    date TEXT NOT NULL,
    trade_date TEXT NOT NULL,
    sell_date TEXT NOT NULL,
    holding_days INTEGER NOT NULL,
    trade_pnl REAL,
    trade_cost REAL,
    trade_value REAL,
    trade_pnl_pct REAL,
    max_trade_loss REAL,
    max_trade_gain REAL,
    unbounded_risk INTEGER NOT NULL DEFAULT 0,
    unbounded_gain INTEGER NOT NULL DEFAULT 0,
    gain_loss_ratio REAL,
    trade_n_legs INTEGER NOT NULL,
    trade_n_contracts REAL,
    multi_ticker INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, strategy, trade_filter_id, date)
);
`
