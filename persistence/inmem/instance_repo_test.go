package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stretchr/testify/require"
)

func instanceOf(id, root, key string) *model.ProcessInstance {
	return &model.ProcessInstance{
		ID:                    id,
		ProcessDefinitionKey:  key,
		RootProcessInstanceID: root,
		Status:                model.INSTANCE_ACTIVE,
		StageIndex:            map[string]int{},
	}
}

func TestInstanceRepository(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, repo *inmemInstanceRepository,
	){
		"test create and get":          testCreateGet,
		"test save isolates caller":    testSaveIsolation,
		"test update stage":            testUpdateStage,
		"test tree membership":         testTreeMembership,
		"test latest by root and key":  testLatestByRootAndKey,
		"test timers":                  testTimers,
		"test stats":                   testStats,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewInmemInstanceRepository())
		})
	}
}

func testCreateGet(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, instanceOf("i-1", "i-1", "order")))

	got, err := repo.Get(ctx, "i-1")
	require.NoError(t, err)
	require.Equal(t, "order", got.ProcessDefinitionKey)

	_, err = repo.Get(ctx, "missing")
	require.Error(t, err)
	_, ok := err.(model.NotFoundError)
	require.True(t, ok)

	err = repo.Save(ctx, instanceOf("never-created", "x", "y"))
	_, ok = err.(model.NotFoundError)
	require.True(t, ok)
}

func testSaveIsolation(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	instance := instanceOf("i-1", "i-1", "order")
	require.NoError(t, repo.Create(ctx, instance))

	// mutating the caller's copy after save must not leak into the store
	instance.Status = model.INSTANCE_CANCELLED
	got, err := repo.Get(ctx, "i-1")
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_ACTIVE, got.Status)

	got.Status = model.INSTANCE_ON_HOLD
	require.NoError(t, repo.Save(ctx, got))
	again, err := repo.Get(ctx, "i-1")
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_ON_HOLD, again.Status)
}

func testUpdateStage(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	instance := instanceOf("i-1", "i-1", "order")
	instance.Stages = []*model.StageInstance{
		{StageDef: model.StageDef{Key: "pack"}, ID: "s-1", Status: model.STAGE_ACTIVE},
	}
	instance.StageIndex = map[string]int{"pack": 0}
	require.NoError(t, repo.Create(ctx, instance))

	updated := &model.StageInstance{StageDef: model.StageDef{Key: "pack"}, ID: "s-1", Status: model.STAGE_COMPLETED}
	require.NoError(t, repo.UpdateStage(ctx, "i-1", updated, model.STAGE_ACTIVE))
	got, err := repo.Get(ctx, "i-1")
	require.NoError(t, err)
	require.Equal(t, model.STAGE_COMPLETED, got.Stages[0].Status)

	// a write whose status precondition no longer matches is rejected
	err = repo.UpdateStage(ctx, "i-1", updated, model.STAGE_ACTIVE)
	_, ok := err.(model.StateConflictError)
	require.True(t, ok)

	err = repo.UpdateStage(ctx, "i-1", &model.StageInstance{ID: "unknown"}, model.STAGE_ACTIVE)
	_, ok = err.(model.NotFoundError)
	require.True(t, ok)
}

func testTreeMembership(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, instanceOf("root", "root", "order")))
	require.NoError(t, repo.Create(ctx, instanceOf("child-1", "root", "billing")))
	require.NoError(t, repo.Create(ctx, instanceOf("other", "other", "order")))

	members, err := repo.ByRoot(ctx, "root")
	require.NoError(t, err)
	require.Len(t, members, 2)

	require.NoError(t, repo.Delete(ctx, "child-1"))
	members, err = repo.ByRoot(ctx, "root")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "root", members[0].ID)
}

func testLatestByRootAndKey(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, instanceOf("root", "root", "order")))
	require.NoError(t, repo.Create(ctx, instanceOf("bill-1", "root", "billing")))
	require.NoError(t, repo.Create(ctx, instanceOf("bill-2", "root", "billing")))

	latest, err := repo.LatestByRootAndKey(ctx, "root", "billing")
	require.NoError(t, err)
	require.Equal(t, "bill-2", latest.ID)

	_, err = repo.LatestByRootAndKey(ctx, "root", "shipping")
	_, ok := err.(model.NotFoundError)
	require.True(t, ok)
}

func testTimers(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	now := time.Now()
	early := persistence.TimerRef{ProcessInstanceID: "i-1", StageID: "s-1"}
	late := persistence.TimerRef{ProcessInstanceID: "i-1", StageID: "s-2"}
	future := persistence.TimerRef{ProcessInstanceID: "i-2", StageID: "s-1"}
	require.NoError(t, repo.AddTimer(ctx, late, now.Add(-time.Minute)))
	require.NoError(t, repo.AddTimer(ctx, early, now.Add(-time.Hour)))
	require.NoError(t, repo.AddTimer(ctx, future, now.Add(time.Hour)))

	refs, err := repo.ExpiredTimers(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, []persistence.TimerRef{early, late}, refs)

	// drained timers do not fire twice
	refs, err = repo.ExpiredTimers(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, refs)

	require.NoError(t, repo.RemoveTimer(ctx, future))
	refs, err = repo.ExpiredTimers(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, refs)
}

func testStats(t *testing.T, repo *inmemInstanceRepository) {
	ctx := context.Background()
	active := instanceOf("i-1", "i-1", "order")
	completed := instanceOf("i-2", "i-2", "order")
	completed.Status = model.INSTANCE_COMPLETED
	held := instanceOf("i-3", "i-3", "order")
	held.Status = model.INSTANCE_ON_HOLD
	for _, instance := range []*model.ProcessInstance{active, completed, held} {
		require.NoError(t, repo.Create(ctx, instance))
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Total)
	require.Equal(t, int64(1), stats.Active)
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(1), stats.OnHold)
	require.Equal(t, int64(0), stats.Cancelled)
}
