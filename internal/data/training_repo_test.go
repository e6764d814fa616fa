package data

import (
	"io"
	"testing"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHelper() *log.Helper {
	return log.NewHelper(log.NewStdLogger(io.Discard))
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func f64Ptr(v float64) *float64 {
	return &v
}

func TestMergeTrainingCallback_MonotonicProgress(t *testing.T) {
	m := &model.TrainingJob{TrainingJobID: "tj-1", Status: constants.TrainingStatusRunning}

	updates := mergeTrainingCallback(m, &biz.TrainingCallback{Progress: intPtr(40)}, time.Now(), testHelper())
	assert.Equal(t, 40, updates["progress"])
	assert.Equal(t, 40, m.Progress)

	// 乱序回调不回退已有进度
	updates = mergeTrainingCallback(m, &biz.TrainingCallback{Progress: intPtr(25)}, time.Now(), testHelper())
	_, ok := updates["progress"]
	assert.False(t, ok)
	assert.Equal(t, 40, m.Progress)
}

func TestMergeTrainingCallback_MonotonicEpoch(t *testing.T) {
	m := &model.TrainingJob{TrainingJobID: "tj-1", Status: constants.TrainingStatusRunning, CurrentEpoch: 2}

	updates := mergeTrainingCallback(m, &biz.TrainingCallback{CurrentEpoch: intPtr(1)}, time.Now(), testHelper())
	assert.Empty(t, updates)
	assert.Equal(t, 2, m.CurrentEpoch)

	updates = mergeTrainingCallback(m, &biz.TrainingCallback{CurrentEpoch: intPtr(3)}, time.Now(), testHelper())
	assert.Equal(t, 3, updates["current_epoch"])
}

func TestMergeTrainingCallback_PartialFields(t *testing.T) {
	m := &model.TrainingJob{TrainingJobID: "tj-1", Status: constants.TrainingStatusRunning, Progress: 10}

	updates := mergeTrainingCallback(m, &biz.TrainingCallback{
		TrainingLoss: f64Ptr(1.25),
		Logs:         strPtr("epoch 1 done"),
	}, time.Now(), testHelper())

	assert.Equal(t, 1.25, updates["training_loss"])
	assert.Equal(t, "epoch 1 done", updates["logs"])
	// 未携带的字段不动
	_, ok := updates["progress"]
	assert.False(t, ok)

	// 日志追加而非覆盖
	updates = mergeTrainingCallback(m, &biz.TrainingCallback{Logs: strPtr("epoch 2 done")}, time.Now(), testHelper())
	assert.Equal(t, "epoch 1 done\nepoch 2 done", updates["logs"])
}

func TestMergeTrainingCallback_TerminalStatusIsSticky(t *testing.T) {
	now := time.Now()
	m := &model.TrainingJob{TrainingJobID: "tj-1", Status: constants.TrainingStatusRunning}

	updates := mergeTrainingCallback(m, &biz.TrainingCallback{
		Status:          strPtr(constants.TrainingStatusCompleted),
		ActualCostCents: int64P(4200),
		OutputPath:      strPtr("s3://models/tj-1"),
	}, now, testHelper())

	assert.Equal(t, constants.TrainingStatusCompleted, updates["status"])
	assert.Equal(t, now, updates["completed_at"])
	assert.Equal(t, int64(4200), updates["actual_cost_cents"])

	// 终态后迟到的状态回调被忽略，completed_at 不再改写
	later := now.Add(time.Minute)
	updates = mergeTrainingCallback(m, &biz.TrainingCallback{
		Status: strPtr(constants.TrainingStatusRunning),
	}, later, testHelper())
	assert.Empty(t, updates)
	assert.Equal(t, constants.TrainingStatusCompleted, m.Status)
	require.NotNil(t, m.CompletedAt)
	assert.Equal(t, now, *m.CompletedAt)
}

func TestMergeTrainingCallback_CancelledBeatsLateCompletion(t *testing.T) {
	now := time.Now()
	m := &model.TrainingJob{TrainingJobID: "tj-1", Status: constants.TrainingStatusCancelled}

	// 取消后编排服务仍可能回报 completed，本地取消优先
	updates := mergeTrainingCallback(m, &biz.TrainingCallback{
		Status:   strPtr(constants.TrainingStatusCompleted),
		Progress: intPtr(100),
	}, now, testHelper())

	_, ok := updates["status"]
	assert.False(t, ok)
	assert.Equal(t, constants.TrainingStatusCancelled, m.Status)
	// 非状态字段仍然合并
	assert.Equal(t, 100, updates["progress"])
}

func int64P(v int64) *int64 { return &v }
