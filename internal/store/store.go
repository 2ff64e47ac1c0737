package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"candlesync/internal/market"
	symbolpkg "candlesync/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// StorageError 包装底层存储错误（预期内的主键冲突不会走到这里）。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CandleStore 持久化 K 线。自然键 (symbol, timeframe, open_time, source)，
// 冲突时插入为 no-op：同一时间戳的数据以先写入者为准。
type CandleStore struct {
	db *sql.DB
}

// Pair 标识一个 symbol@timeframe 组合。
type Pair struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func (p Pair) String() string { return p.Symbol + "@" + p.Timeframe }

func Open(path string) (*CandleStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CandleStore{db: db}, nil
}

func (s *CandleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol      TEXT NOT NULL,
			timeframe   TEXT NOT NULL,
			open_time   INTEGER NOT NULL,
			source      TEXT NOT NULL,
			open        TEXT NOT NULL,
			high        TEXT NOT NULL,
			low         TEXT NOT NULL,
			close       TEXT NOT NULL,
			volume      TEXT NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (symbol, timeframe, open_time, source)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_candles_range ON candles(symbol, timeframe, open_time);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert 批量写入 K 线，自然键冲突静默跳过（幂等）。返回实际新插入的行数。
func (s *CandleStore) Upsert(ctx context.Context, candles []market.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, &StorageError{Op: "upsert", Err: err}
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, open_time, source, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time, source) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	defer stmt.Close()
	var inserted int64
	for _, c := range candles {
		res, err := stmt.ExecContext(ctx,
			symbolpkg.Canonical(c.Symbol), strings.ToLower(c.Timeframe), c.OpenTime, c.Source,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			_ = tx.Rollback()
			return 0, &StorageError{Op: "upsert", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	return inserted, nil
}

// Coverage 返回 (symbol, timeframe) 已有数据的 [min,max] 边界；无数据返回 nil。
func (s *CandleStore) Coverage(ctx context.Context, symbol, timeframe string) (*market.Coverage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT MIN(open_time), MAX(open_time) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbolpkg.Canonical(symbol), strings.ToLower(timeframe))
	var minTS, maxTS sql.NullInt64
	if err := row.Scan(&minTS, &maxTS); err != nil {
		return nil, &StorageError{Op: "coverage", Err: err}
	}
	if !minTS.Valid || !maxTS.Valid {
		return nil, nil
	}
	return &market.Coverage{Min: minTS.Int64, Max: maxTS.Int64}, nil
}

// Read 读取 [start,end]（毫秒闭区间）的 K 线，按 open_time 升序。
func (s *CandleStore) Read(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if end < start {
		start, end = end, start
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, open_time, source, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`,
		symbolpkg.Canonical(symbol), strings.ToLower(timeframe), start, end)
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	defer rows.Close()
	return scanCandles(rows)
}

// Symbols 返回所有出现过的 symbol（排序后）。
func (s *CandleStore) Symbols(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT symbol FROM candles ORDER BY symbol`)
}

// Timeframes 返回所有出现过的周期（排序后）。
func (s *CandleStore) Timeframes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT timeframe FROM candles ORDER BY timeframe`)
}

// Pairs 返回所有出现过的 symbol@timeframe 组合。
func (s *CandleStore) Pairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT symbol, timeframe FROM candles ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, &StorageError{Op: "pairs", Err: err}
	}
	defer rows.Close()
	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Symbol, &p.Timeframe); err != nil {
			return nil, &StorageError{Op: "pairs", Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "pairs", Err: err}
	}
	return out, nil
}

func (s *CandleStore) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "distinct", Err: err}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &StorageError{Op: "distinct", Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "distinct", Err: err}
	}
	return out, nil
}

func scanCandles(rows *sql.Rows) ([]market.Candle, error) {
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		var open, high, low, closep, volume string
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Source, &open, &high, &low, &closep, &volume); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		var err error
		if c.Open, err = decimal.NewFromString(open); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		if c.High, err = decimal.NewFromString(high); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		if c.Low, err = decimal.NewFromString(low); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		if c.Close, err = decimal.NewFromString(closep); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan", Err: err}
	}
	return list, nil
}
