package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/inspectly/report-scheduler/internal/config"
)

// PostgresDB wraps sql.DB for PostgreSQL operations
type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(cfg config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// InitSchema initializes the database schema
func (db *PostgresDB) InitSchema() error {
	schema := `
	-- Restaurants table
	CREATE TABLE IF NOT EXISTS restaurants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		address VARCHAR(500),
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Sections table (inspection areas within a restaurant)
	CREATE TABLE IF NOT EXISTS sections (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		restaurant_id UUID REFERENCES restaurants(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Users table (report recipients)
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		phone VARCHAR(20),
		role VARCHAR(50) NOT NULL, -- super_admin, owner, district_manager, general_manager, employee
		restaurant_id UUID REFERENCES restaurants(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Inspections table
	CREATE TABLE IF NOT EXISTS inspections (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
		section_id UUID REFERENCES sections(id) ON DELETE SET NULL,
		inspector_id UUID REFERENCES users(id) ON DELETE SET NULL,
		score NUMERIC(5,2),
		passed BOOLEAN NOT NULL DEFAULT false,
		conducted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Report notifications table (scheduled entity)
	CREATE TABLE IF NOT EXISTS report_notifications (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		frequency VARCHAR(20) NOT NULL, -- daily, weekly, monthly
		send_time VARCHAR(5) NOT NULL,  -- HH:MM 24-hour
		time_zone VARCHAR(64) NOT NULL,
		day_of_week VARCHAR(10),        -- required when frequency = weekly
		day_of_month INTEGER,           -- required when frequency = monthly
		email_enabled BOOLEAN NOT NULL DEFAULT true,
		whatsapp_enabled BOOLEAN NOT NULL DEFAULT false,
		roles TEXT[] NOT NULL DEFAULT '{}',
		restaurant_filter VARCHAR(20) NOT NULL DEFAULT 'all', -- all, specific
		section_filter VARCHAR(20) NOT NULL DEFAULT 'all',    -- all, specific
		restaurant_ids UUID[] NOT NULL DEFAULT '{}',
		section_ids UUID[] NOT NULL DEFAULT '{}',
		date_range_days INTEGER NOT NULL DEFAULT 7,
		active BOOLEAN NOT NULL DEFAULT true,
		recipient_count INTEGER NOT NULL DEFAULT 0,
		last_sent TIMESTAMPTZ,
		next_send TIMESTAMPTZ,
		created_by UUID REFERENCES users(id) ON DELETE SET NULL,
		updated_by UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Dispatch history table (one row per channel attempt)
	CREATE TABLE IF NOT EXISTS dispatch_history (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		notification_id UUID NOT NULL REFERENCES report_notifications(id) ON DELETE CASCADE,
		channel VARCHAR(20) NOT NULL,
		recipient_count INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		manual BOOLEAN NOT NULL DEFAULT false,
		sent_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Create indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_report_notifications_due ON report_notifications(active, next_send);
	CREATE INDEX IF NOT EXISTS idx_inspections_restaurant_id ON inspections(restaurant_id);
	CREATE INDEX IF NOT EXISTS idx_inspections_conducted_at ON inspections(conducted_at);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
	CREATE INDEX IF NOT EXISTS idx_dispatch_history_notification_id ON dispatch_history(notification_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
