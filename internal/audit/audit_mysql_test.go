package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"admoderation/internal/model"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

// startMySQL 在 Docker 中启动一个 MySQL 并返回迁移好的存储；没有 Docker 时跳过。
func startMySQL(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("mysql integration test skipped in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=secret",
			"MYSQL_DATABASE=admoderation",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "start mysql container")
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:secret@tcp(%s)/admoderation?charset=utf8mb4&parseTime=True&loc=UTC",
		resource.GetHostPort("3306/tcp"))
	var store *Store
	err = pool.Retry(func() error {
		s, openErr := Open(dsn)
		if openErr != nil {
			return openErr
		}
		store = s
		return nil
	})
	require.NoError(t, err, "connect mysql")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_MySQL(t *testing.T) {
	s := startMySQL(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []model.DecisionEvent{
		{EventID: "e-1", AdID: 7, Action: model.KindRequestChanges, Status: model.StatusDraft, DecidedAt: base},
		{EventID: "e-2", AdID: 7, Action: model.KindReject, Status: model.StatusRejected, DecidedAt: base.Add(time.Hour)},
		{EventID: "e-3", AdID: 7, Action: model.KindApprove, Status: model.StatusApproved, DecidedAt: base.Add(2 * time.Hour)},
		{EventID: "e-4", AdID: 8, Action: model.KindApprove, Status: model.StatusApproved, DecidedAt: base},
	}
	for _, ev := range events {
		require.NoError(t, s.Persist(ctx, ev))
	}

	t.Run("duplicate event is stored once", func(t *testing.T) {
		dup := events[0]
		dup.Comment = "redelivered"
		require.NoError(t, s.Persist(ctx, dup))

		var count int64
		require.NoError(t, s.db.Model(&DecisionRecord{}).Where("event_id = ?", "e-1").Count(&count).Error)
		require.EqualValues(t, 1, count)

		var rec DecisionRecord
		require.NoError(t, s.db.Where("event_id = ?", "e-1").First(&rec).Error)
		require.Empty(t, rec.Comment, "first delivery wins")
	})

	t.Run("history is newest first and limited", func(t *testing.T) {
		records, err := s.History(ctx, 7, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "e-3", records[0].EventID)
		require.Equal(t, "e-2", records[1].EventID)
	})

	t.Run("default limit returns every record of the ad", func(t *testing.T) {
		records, err := s.History(ctx, 7, 0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		require.Equal(t, "e-1", records[2].EventID)
		for _, rec := range records {
			require.EqualValues(t, 7, rec.AdID)
		}
	})

	t.Run("unknown ad has empty history", func(t *testing.T) {
		records, err := s.History(ctx, 404, 10)
		require.NoError(t, err)
		require.Empty(t, records)
	})
}
