package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) (*MemoryStore, time.Time) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	for _, task := range []*Task{
		{ID: "t1", Goal: "list open tickets", Status: StatusPending, MaxAttempts: 3},
		{ID: "t2", Goal: "escalate ticket T-9", Status: StatusPending, MaxAttempts: 3},
		{ID: "t3", Goal: "weekly report", Status: StatusPending, MaxAttempts: 3},
	} {
		require.NoError(t, store.Create(ctx, task))
	}
	require.NoError(t, store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", false))
	require.NoError(t, store.MarkSucceeded(ctx, "t3", ExecutionResult{Reply: "Report for Acme ready", Outcome: "answered"}))

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()
	return store, base
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store, base := seedStore(t)
	ctx := context.Background()

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2", "t1"}, ids(all))

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(asc))

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed, "bogus")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ids(failed))

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, ids(withResult))

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2"}, ids(recent))

	byQuery, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("ACME")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, ids(byQuery))

	paged, err := store.List(ctx, buildListOptions([]ListOption{WithLimit(1), WithOffset(1)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ids(paged))

	empty, err := store.List(ctx, buildListOptions([]ListOption{WithOffset(10)}))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreStats(t *testing.T) {
	store, base := seedStore(t)

	stats, err := store.Stats(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStats{
		Total:           3,
		Pending:         1,
		Succeeded:       1,
		Failed:          1,
		OldestUpdatedAt: base.Unix(),
		NewestUpdatedAt: base.Add(60 * time.Second).Unix(),
	}, stats)

	stats, err = store.Stats(context.Background(), buildListOptions([]ListOption{WithStatuses(StatusRunning)}))
	require.NoError(t, err)
	assert.Equal(t, TaskStats{}, stats)
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Task{ID: "t1", Goal: "g", Status: StatusPending, MaxAttempts: 2}))
	assert.ErrorIs(t, store.Create(ctx, &Task{ID: "t1", Goal: "g"}), ErrTaskConflict)

	claimed, err := store.Claim(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Claim(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskConflict)

	require.NoError(t, store.MarkFailed(ctx, "t1", CodeTaskProcessing, "transient", true))
	retried, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, retried.Status)
	assert.False(t, retried.IsTerminal())

	claimed, err = store.Claim(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
	assert.Empty(t, claimed.LastError)

	require.NoError(t, store.MarkFailed(ctx, "t1", CodeTaskProcessing, "again", true))
	_, err = store.Claim(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskExhausted)

	_, err = store.Claim(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Task{ID: "t1", Goal: "g", Metadata: map[string]any{"source": "api"}}))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	got.Metadata["source"] = "mutated"
	got.Goal = "changed"

	again, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "api", again.Metadata["source"])
	assert.Equal(t, "g", again.Goal)
}

func TestMySQLStoreRejectsBadTableName(t *testing.T) {
	_, err := newMySQLStore(nil, "tasks; DROP TABLE users")
	require.Error(t, err)

	store, err := newMySQLStore(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMySQLTable, store.table)
}

func TestBuildFilterClause(t *testing.T) {
	hasResult := true
	opts := ListOptions{
		Statuses:   []Status{StatusPending, StatusFailed},
		UpdatedGTE: 10,
		HasResult:  &hasResult,
		Query:      "acme",
	}
	clause, args := buildFilterClause(opts)
	assert.Equal(t, "status IN (?,?) AND updated_at >= ? AND result IS NOT NULL AND (goal LIKE ? OR result LIKE ?)", clause)
	assert.Equal(t, []any{StatusPending, StatusFailed, int64(10), "%acme%", "%acme%"}, args)

	clause, args = buildFilterClause(ListOptions{})
	assert.Empty(t, clause)
	assert.Empty(t, args)
}
