package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/dipeo/core/internal/infrastructure/storage/models"
)

// setupEventRepoTest starts a disposable Postgres container and creates
// the events table directly (this module carries no migration runner,
// unlike the teacher's storage package), grounded on the teacher's
// event_repository_test.go container-per-test pattern.
func setupEventRepoTest(t *testing.T) (*EventRepository, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "dipeo_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/dipeo_test?sslmode=disable", host, port.Port())
	time.Sleep(500 * time.Millisecond)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	_, err = db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`)
	require.NoError(t, err)
	_, err = db.NewCreateTable().Model((*models.EventModel)(nil)).IfNotExists().Exec(ctx)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		_ = container.Terminate(ctx)
	}
	return NewEventRepository(db), cleanup
}

func TestEventRepository_Append(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()

	execID := uuid.New()
	event := &models.EventModel{ExecutionID: execID, EventType: "execution_started", Payload: models.JSONBMap{"status": "started"}}
	require.NoError(t, repo.Append(context.Background(), event))
	assert.NotEqual(t, uuid.Nil, event.ID)
}

func TestEventRepository_AppendBatch(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()

	execID := uuid.New()
	events := []*models.EventModel{
		{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{"node": "n1"}},
		{ExecutionID: execID, EventType: "node_completed", Payload: models.JSONBMap{"node": "n1"}},
	}
	require.NoError(t, repo.AppendBatch(context.Background(), events))
	for _, e := range events {
		assert.NotEqual(t, uuid.Nil, e.ID)
	}
}

func TestEventRepository_AppendBatch_EmptySlice(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	require.NoError(t, repo.AppendBatch(context.Background(), nil))
}

func TestEventRepository_FindByExecutionID(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{"i": i}}))
	}

	events, err := repo.FindByExecutionID(ctx, execID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 0; i < len(events)-1; i++ {
		assert.Less(t, events[i].Sequence, events[i+1].Sequence)
	}
}

func TestEventRepository_FindByExecutionIDSince(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	var lastSeq int64
	for i := 0; i < 5; i++ {
		e := &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{}}
		require.NoError(t, repo.Append(ctx, e))
		lastSeq = e.Sequence
	}

	events, err := repo.FindByExecutionIDSince(ctx, execID, lastSeq-2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventRepository_FindByType(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "execution_started", Payload: models.JSONBMap{}}))
	require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "execution_started", Payload: models.JSONBMap{}}))
	require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_completed", Payload: models.JSONBMap{}}))

	events, err := repo.FindByType(ctx, "execution_started", 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventRepository_FindLatestByExecutionID(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	var last *models.EventModel
	for i := 0; i < 3; i++ {
		e := &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{}}
		require.NoError(t, repo.Append(ctx, e))
		last = e
	}

	latest, err := repo.FindLatestByExecutionID(ctx, execID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, last.ID, latest.ID)
}

func TestEventRepository_FindLatestByExecutionID_NotFound(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()

	latest, err := repo.FindLatestByExecutionID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestEventRepository_CountByExecutionID(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{}}))
	}

	count, err := repo.CountByExecutionID(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestEventRepository_CountByType(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{}}))
	require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{}}))
	require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_completed", Payload: models.JSONBMap{}}))

	n, err := repo.CountByType(ctx, "node_started")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEventRepository_Stream(t *testing.T) {
	repo, cleanup := setupEventRepoTest(t)
	defer cleanup()
	ctx := context.Background()

	execID := uuid.New()
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.Append(ctx, &models.EventModel{ExecutionID: execID, EventType: "node_started", Payload: models.JSONBMap{}}))
	}

	streamCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	eventChan, errChan := repo.Stream(streamCtx, execID, 0)

	var received []*models.EventModel
	timeout := time.After(1500 * time.Millisecond)
collectLoop:
	for {
		select {
		case e, ok := <-eventChan:
			if !ok {
				break collectLoop
			}
			received = append(received, e)
			if len(received) >= 2 {
				break collectLoop
			}
		case err := <-errChan:
			require.NoError(t, err)
		case <-timeout:
			break collectLoop
		}
	}
	assert.GreaterOrEqual(t, len(received), 2)
}
