// Package testdb opens an in-memory sqlite database carrying the storefront
// schema for repository and service tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/pkg/db"
)

var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		last_login_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE profiles (
		user_id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		phone TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE user_roles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		UNIQUE (user_id, role)
	)`,
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		description TEXT,
		min_weight_kg TEXT NOT NULL,
		max_weight_kg TEXT NOT NULL,
		price_per_kg TEXT NOT NULL,
		image_path TEXT,
		is_available BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE cart_items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (user_id, product_id, variant)
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		order_number TEXT,
		user_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		delivery_address TEXT NOT NULL,
		contact_name TEXT NOT NULL,
		contact_phone TEXT NOT NULL,
		comments TEXT,
		location_notes TEXT,
		preferred_time TEXT,
		expected_delivery_date DATETIME,
		payment_receipt_path TEXT,
		status TEXT NOT NULL DEFAULT 'awaiting_payment',
		logistics_stage INTEGER,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT,
		product_name TEXT NOT NULL,
		variant TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE order_certificates (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		certificate_type TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		uploaded_by TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE shipment_stage_definitions (
		id TEXT PRIMARY KEY,
		stage_number INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		location TEXT
	)`,
	`CREATE TABLE shipment_stages (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		stage_definition_id TEXT NOT NULL,
		stage_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		started_at DATETIME,
		completed_at DATETIME,
		admin_notes TEXT,
		updated_by TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (order_id, stage_number)
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// StageCount is the number of stage definitions Open seeds.
const StageCount = 7

// Open returns a fresh database named after the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	for n := 1; n <= StageCount; n++ {
		if err := conn.Exec(
			`INSERT INTO shipment_stage_definitions (id, stage_number, name) VALUES (?, ?, ?)`,
			fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", n), n, fmt.Sprintf("Stage %d", n),
		).Error; err != nil {
			t.Fatalf("seed stage definitions: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// Client wraps Open in the transaction runner services expect.
func Client(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromGorm(conn), conn
}
