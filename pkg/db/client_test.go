package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type crate struct {
	ID      int
	Species string
}

func openSQLite(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&crate{}))
	client := NewFromGorm(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func countCrates(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&crate{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsOnNil(t *testing.T) {
	client := openSQLite(t)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&crate{Species: "octopus"}).Error
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, countCrates(t, client))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := openSQLite(t)
	boom := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&crate{Species: "hake"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, countCrates(t, client))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := openSQLite(t)
	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&crate{Species: "squid"}).Error)
			panic("net snapped")
		})
	})
	assert.Zero(t, countCrates(t, client))
}

func TestPingAndStats(t *testing.T) {
	client := openSQLite(t)
	require.NoError(t, client.Ping(context.Background()))

	collector, err := client.StatsCollector("test")
	require.NoError(t, err)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))
	n, err := testutil.GatherAndCount(reg, "go_sql_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_cart_items_user_product_variant"}
	assert.True(t, IsUniqueViolation(pgErr, ""))
	assert.True(t, IsUniqueViolation(pgErr, "ux_cart_items_user_product_variant"))
	assert.False(t, IsUniqueViolation(pgErr, "ux_other"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""), "foreign key is not unique")
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: products.slug"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestIsNotFound(t *testing.T) {
	client := openSQLite(t)
	var row crate
	err := client.DB().Where("species = ?", "kraken").First(&row).Error
	assert.True(t, IsNotFound(err))
}
