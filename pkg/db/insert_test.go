package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type dedupRow struct {
	ID  uint   `gorm:"primaryKey"`
	Key string `gorm:"uniqueIndex"`
}

func TestInsertIfAbsent(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&dedupRow{}))

	ctx := context.Background()
	inserted, err := InsertIfAbsent(ctx, gdb, &dedupRow{Key: "evt_1"})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = InsertIfAbsent(ctx, gdb, &dedupRow{Key: "evt_1"})
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestInsertIfAbsent_Concurrent(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&dedupRow{}))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := InsertIfAbsent(context.Background(), gdb, &dedupRow{Key: "evt_race"})
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins)
}
