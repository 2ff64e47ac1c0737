package synclog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	symbolpkg "candlesync/internal/pkg/symbol"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// 触发来源。
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerEnsure    = "ensure"
)

// 运行结果。
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusNoop    = "noop"
)

// SyncRun 是一次拉取动作的审计记录。调度器的进程内状态（SyncState）不落库，
// 这张表只保留历史，供状态接口和排查使用。
type SyncRun struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Symbol     string         `gorm:"size:32;index:idx_sync_pair" json:"symbol"`
	Timeframe  string         `gorm:"size:8;index:idx_sync_pair" json:"timeframe"`
	Trigger    string         `gorm:"size:16" json:"trigger"`
	StartTS    int64          `json:"start_ts"`
	EndTS      int64          `json:"end_ts"`
	Inserted   int64          `json:"inserted"`
	Status     string         `gorm:"size:16;index" json:"status"`
	Message    string         `json:"message"`
	Detail     datatypes.JSON `json:"detail,omitempty"`
	StartedAt  time.Time      `gorm:"index" json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

func (SyncRun) TableName() string { return "sync_runs" }

// Store 基于 Gorm + SQLite 持久化同步审计记录。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("synclog: 存储路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SyncRun{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 写入一条审计记录；ID 为空时自动生成。
func (s *Store) Record(ctx context.Context, run *SyncRun) error {
	if run == nil {
		return fmt.Errorf("synclog: run 不能为空")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(run).Error
}

// Recent 返回最近的审计记录，按开始时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var runs []SyncRun
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// RecentForPair 返回指定 pair 最近的审计记录。
func (s *Store) RecentForPair(ctx context.Context, symbol, timeframe string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRun
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbolpkg.Canonical(symbol), strings.ToLower(timeframe)).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
