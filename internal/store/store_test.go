package store

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_AcceptsAddrAndURL(t *testing.T) {
	r, err := NewRedis("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", r.Client.Options().Addr)
	require.NoError(t, r.Close())

	r, err = NewRedis("redis://:pw@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", r.Client.Options().Addr)
	assert.Equal(t, 2, r.Client.Options().DB)
	assert.Equal(t, "pw", r.Client.Options().Password)
	require.NoError(t, r.Close())

	_, err = NewRedis("redis://cache:notaport")
	assert.Error(t, err)
}

func TestNilHandlesAreUnhealthy(t *testing.T) {
	var d *DB
	var r *Redis
	assert.False(t, d.Healthy(context.Background()))
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, d.Close())
	assert.NoError(t, r.Close())
}

func TestMigrations_DeclareLedgerUniqueness(t *testing.T) {
	data, err := fs.ReadFile(migrations, "migrations/00001_init.sql")
	require.NoError(t, err)
	sql := string(data)

	assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	assert.Contains(t, sql, "-- +goose Down")
	assert.Contains(t, sql, "UNIQUE (student_id, event_id)")
	assert.Contains(t, sql, "ON DELETE CASCADE")
}
