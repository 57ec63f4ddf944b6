package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX pgxpool.Pool 与 pgxmock 共同满足的查询接口
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	return Migrate(ctx, db.Pool)
}

// Migrate 在给定连接上按顺序执行迁移
func Migrate(ctx context.Context, q DBTX) error {
	migrations := []string{
		migrationCreateTeslaCredentials,
		migrationCreateProfiles,
		migrationCreatePKCEStates,
		migrationCreateVehicles,
		migrationCreateMileageReadings,
		migrationCreateSyncStatus,
		migrationCreateAuditLogs,
	}

	for _, m := range migrations {
		if _, err := q.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateTeslaCredentials = `
CREATE TABLE IF NOT EXISTS tesla_credentials (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL UNIQUE,
    access_token_enc TEXT NOT NULL,
    refresh_token_enc TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// profiles 由外部身份系统维护，这里只保证遗留令牌列存在
const migrationCreateProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    tesla_access_token TEXT,
    tesla_refresh_token TEXT,
    tesla_token_expires_at TIMESTAMPTZ
);
`

const migrationCreatePKCEStates = `
CREATE TABLE IF NOT EXISTS pkce_states (
    id BIGSERIAL PRIMARY KEY,
    state TEXT NOT NULL UNIQUE,
    code_verifier TEXT NOT NULL,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_pkce_states_created_at ON pkce_states(created_at);
`

const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    tesla_vehicle_id TEXT NOT NULL,
    vin VARCHAR(17),
    display_name VARCHAR(255),
    model VARCHAR(50),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, tesla_vehicle_id)
);

CREATE INDEX IF NOT EXISTS idx_vehicles_user_active ON vehicles(user_id, is_active);
`

const migrationCreateMileageReadings = `
CREATE TABLE IF NOT EXISTS mileage_readings (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    user_id TEXT NOT NULL,
    reading_date DATE NOT NULL,
    odometer_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    daily_km DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (daily_km >= 0),
    location_name TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (vehicle_id, reading_date)
);

CREATE INDEX IF NOT EXISTS idx_mileage_readings_user_date ON mileage_readings(user_id, reading_date);
`

const migrationCreateSyncStatus = `
CREATE TABLE IF NOT EXISTS sync_status (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL UNIQUE REFERENCES vehicles(id),
    user_id TEXT NOT NULL,
    last_sync_attempt TIMESTAMPTZ NOT NULL,
    last_successful_sync TIMESTAMPTZ,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    is_offline BOOLEAN NOT NULL DEFAULT FALSE
);
`

const migrationCreateAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    action VARCHAR(64) NOT NULL,
    entity_type VARCHAR(64) NOT NULL,
    entity_id TEXT NOT NULL DEFAULT '',
    details JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id, created_at DESC);
`
