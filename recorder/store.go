// Package recorder 将同步事件的诊断记录落库到 SQLite，供离线分析延迟与顺序
package recorder

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"cubesync/netsync"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store 诊断记录存储，实现 netsync.Recorder。
// Record 在 Tick 线程中调用，写入失败只记录日志，不影响同步逻辑。
type Store struct {
	db    *sql.DB
	runID string
	log   *zap.SugaredLogger

	mu     sync.Mutex
	insert *sql.Stmt
	failed int64
}

// Open 打开（或创建）path 处的数据库并应用迁移；runID 区分不同运行
func Open(ctx context.Context, path, runID string, log *zap.SugaredLogger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("record db path is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}
	// 单连接：:memory: 库只在同一连接内可见，也避免写锁竞争
	db.SetMaxOpenConns(1)
	// 逐条写入，不要求每次提交都刷盘
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	stmt, err := db.PrepareContext(ctx, `INSERT INTO releases
		(run_id, direction, phase, server_time_ns, client_time_ns, server_step, client_step, step, delivery_step, link_step, jump)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &Store{db: db, runID: runID, log: log, insert: stmt}, nil
}

// Record 写入一条记录
func (s *Store) Record(r netsync.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.insert.Exec(
		s.runID,
		r.Direction.String(),
		r.Phase.String(),
		int64(r.ServerTime),
		int64(r.ClientTime),
		r.ServerStep,
		r.ClientStep,
		r.Step,
		r.DeliveryStep,
		r.LinkStep,
		r.Jump,
	)
	if err != nil {
		s.failed++
		// 只在首次及每 1000 次失败时告警，避免刷屏
		if s.failed == 1 || s.failed%1000 == 0 {
			s.log.Warnw("record write failed", "failures", s.failed, "error", err)
		}
	}
}

// List 按写入顺序读取本次运行某方向的记录；dir 为 0 时返回全部方向
func (s *Store) List(ctx context.Context, dir netsync.Direction) ([]netsync.Record, error) {
	query := `SELECT direction, phase, server_time_ns, client_time_ns, server_step, client_step, step, delivery_step, link_step, jump
		FROM releases WHERE run_id = ?`
	args := []any{s.runID}
	if dir != 0 {
		query += ` AND direction = ?`
		args = append(args, dir.String())
	}
	query += ` ORDER BY id`

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer rows.Close()

	var out []netsync.Record
	for rows.Next() {
		var (
			direction, phase       string
			serverTime, clientTime int64
			r                      netsync.Record
		)
		if err := rows.Scan(&direction, &phase, &serverTime, &clientTime,
			&r.ServerStep, &r.ClientStep, &r.Step, &r.DeliveryStep, &r.LinkStep, &r.Jump); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		if err := r.Direction.UnmarshalText([]byte(direction)); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		if err := r.Phase.UnmarshalText([]byte(phase)); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		r.ServerTime = time.Duration(serverTime)
		r.ClientTime = time.Duration(clientTime)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insert.Close(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("close insert statement: %w", err)
	}
	return s.db.Close()
}

// applyMigrations 每个迁移文件至多执行一次
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var n int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upSection 取出 -- +migrate Up 与 -- +migrate Down 之间的 SQL
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	i := strings.Index(content, up)
	if i == -1 {
		return content
	}
	content = content[i+len(up):]
	if j := strings.Index(content, down); j != -1 {
		content = content[:j]
	}
	return content
}
