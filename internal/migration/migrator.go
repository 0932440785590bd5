package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，注册为 "sqlite"
)

// =============================================================================
// 内嵌迁移文件
// =============================================================================

//go:embed migrations
var migrationsFS embed.FS

// DefaultTableName 版本记录表
const DefaultTableName = "schema_migrations"

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// driverName 返回 database/sql 驱动名
func (t DatabaseType) driverName() (string, error) {
	switch t {
	case DatabaseTypePostgres:
		return "postgres", nil
	case DatabaseTypeMySQL:
		return "mysql", nil
	case DatabaseTypeSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", t)
	}
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	// DatabaseType 数据库类型
	DatabaseType DatabaseType
	// DatabaseURL database/sql 连接串
	DatabaseURL string
	// TableName 版本记录表，默认 schema_migrations
	TableName string
	// LockTimeout 获取迁移锁的超时
	LockTimeout time.Duration
}

// Migrator 数据库迁移接口
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator 基于 golang-migrate 的实现
type DefaultMigrator struct {
	config  *Config
	migrate *migrate.Migrate
	db      *sql.DB
}

// NewMigrator 创建迁移器
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &DefaultMigrator{config: cfg}
	if err := m.init(); err != nil {
		if m.db != nil {
			m.db.Close()
		}
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

func (m *DefaultMigrator) init() error {
	driverName, err := m.config.DatabaseType.driverName()
	if err != nil {
		return err
	}

	m.db, err = sql.Open(driverName, m.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := m.db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dbDriver, err := m.databaseDriver()
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := sourceDriver(m.config.DatabaseType)
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m.migrate, err = migrate.NewWithInstance("iofs", src, string(m.config.DatabaseType), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.LockTimeout = m.config.LockTimeout
	return nil
}

func (m *DefaultMigrator) databaseDriver() (database.Driver, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeSQLite:
		return sqlite.WithInstance(m.db, &sqlite.Config{MigrationsTable: m.config.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

func sourceDriver(dbType DatabaseType) (source.Driver, error) {
	return iofs.New(migrationsFS, MigrationsPath(dbType))
}

// Up 执行全部待迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Steps 正数前进 n 步，负数回滚 n 步
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Force 强制设置版本号，用于修复 dirty 状态
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version 返回当前版本；未执行过迁移时为 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 返回全部迁移的状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

// Info 返回迁移摘要
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(statuses),
		AppliedMigrations: applied,
		PendingMigrations: len(statuses) - applied,
	}, nil
}

// Close 释放 migrate 实例与数据库连接
func (m *DefaultMigrator) Close() error {
	var errs []error
	if m.migrate != nil {
		sourceErr, dbErr := m.migrate.Close()
		errs = append(errs, sourceErr, dbErr)
	}
	return errors.Join(errs...)
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 列出内嵌的 up 迁移，按版本排序
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, MigrationsPath(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[uint]bool)
	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_coach_sessions.up.sql
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil || seen[uint(version)] {
			continue
		}
		seen[uint(version)] = true
		files = append(files, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// ParseDatabaseType 解析数据库类型字符串
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// MigrationsPath 返回内嵌文件系统中的迁移目录
func MigrationsPath(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}
