package database

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	pg := Config{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "videos"}
	dsn, err := pg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=videos sslmode=disable TimeZone=UTC", dsn)

	my := Config{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", DBName: "videos"}
	dsn, err = my.DSN()
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(db:3306)/videos?charset=utf8mb4&parseTime=True&loc=UTC", dsn)

	_, err = (&Config{Driver: "sqlite"}).DSN()
	assert.Error(t, err)
	_, err = (&Config{Driver: "oracle"}).DSN()
	assert.Error(t, err)
}

type row struct {
	ID   uint
	Name string
}

func TestNewSQLite(t *testing.T) {
	db, err := New(&Config{Driver: "sqlite", FilePath: "file::memory:", MaxOpenConns: 1, LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db, &row{}))

	require.NoError(t, db.Create(&row{Name: "a"}).Error)
	var got row
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "a", got.Name)
}

func TestGormLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	l := newGormLogger(zerolog.New(&buf), "warn")
	assert.Equal(t, logger.Warn, gormLevel("warn"))
	assert.Equal(t, logger.Warn, gormLevel(""))

	l.Warn(context.Background(), "slow %s", "thing")
	assert.Contains(t, buf.String(), "slow thing")

	l.Info(context.Background(), "hidden")
	assert.NotContains(t, buf.String(), "hidden")
}
