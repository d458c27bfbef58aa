package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	// gorm.Open pings the connection on open; the monitored mock must expect it
	mock.ExpectPing()

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 mockDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func TestNewPoolManager(t *testing.T) {
	db, _ := setupMockDB(t)

	pm, err := NewPoolManager(db, PoolConfig{
		MaxIdleConns:    2,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Minute,
		// 关闭健康检查循环，避免测试中的后台 ping
		HealthCheckInterval: 0,
	}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.NotNil(t, pm.DB())
	assert.Equal(t, 4, pm.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectPing()

	// sqlmock 的连接被关闭后无法重新打开，保留一个空闲连接
	pm, err := NewPoolManager(db, PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.NoError(t, pm.Ping(context.Background()))
}

func TestPoolManager_ClosedRejectsPing(t *testing.T) {
	db, _ := setupMockDB(t)

	pm, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pm.Close())
	assert.Error(t, pm.Ping(context.Background()))
	// 重复关闭无副作用
	assert.NoError(t, pm.Close())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.NoError(t, sqlDB.Ping())
}
