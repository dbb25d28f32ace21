package db

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tidecrate/storefront/pkg/logger"
)

type testModel struct {
	ID   int
	Name string
}

func TestQueryLoggerReportsFailuresOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory"), &gorm.Config{
		Logger: newQueryLogger(logg, time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&testModel{}))
	ctx := logg.WithRequestID(context.Background(), "req-db")

	var row testModel
	err = conn.WithContext(ctx).Where("name = ?", "missing").First(&row).Error
	assert.True(t, IsNotFound(err))
	assert.Empty(t, buf.String(), "record not found must stay quiet")

	err = conn.WithContext(ctx).Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	assert.Contains(t, buf.String(), "db.query.failed")
	assert.Contains(t, buf.String(), "no_such_table")
	assert.Contains(t, buf.String(), "req-db")
}

func TestQueryLoggerSlowQueries(t *testing.T) {
	buf := &bytes.Buffer{}
	q := newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: buf}), time.Millisecond)

	q.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	assert.Contains(t, buf.String(), "db.query.slow")

	buf.Reset()
	q.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	assert.Empty(t, buf.String())
}

func TestQueryLoggerNilLoggerDiscards(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, 0))
}
