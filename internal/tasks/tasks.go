package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vbud/ewb-server/internal/domain"
)

// 定义任务类型常量
const (
	TypeMergeRetry = "whiteboard:merge"     // 已广播但未落库的元素操作重试
	TypeReconcile  = "whiteboard:reconcile" // 周期性地把存储中的白板重新推给活跃房间
)

// 队列与重试参数
const (
	QueueCritical = "critical"
	QueueDefault  = "default"

	MergeRetryMax = 5
)

// MergeRetryPayload 定义了元素合并重试任务的数据结构
type MergeRetryPayload struct {
	WhiteboardID string           `json:"whiteboard_id"`
	Added        []domain.Element `json:"added,omitempty"`
	Removed      []domain.Element `json:"removed,omitempty"`
}

// NewMergeRetryTask 创建一个元素合并重试任务
func NewMergeRetryTask(whiteboardID string, added, removed []domain.Element) (*asynq.Task, error) {
	payload, err := json.Marshal(MergeRetryPayload{
		WhiteboardID: whiteboardID,
		Added:        added,
		Removed:      removed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal merge retry payload: %w", err)
	}
	return asynq.NewTask(TypeMergeRetry, payload, asynq.MaxRetry(MergeRetryMax), asynq.Queue(QueueCritical)), nil
}

// ParseMergeRetryPayload 解析重试任务的 payload
func ParseMergeRetryPayload(t *asynq.Task) (MergeRetryPayload, error) {
	var payload MergeRetryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("unmarshal merge retry payload: %w", err)
	}
	return payload, nil
}

// NewReconcileTask 创建周期对账任务，没有 payload
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeReconcile, nil, asynq.MaxRetry(0), asynq.Queue(QueueDefault))
}

// Enqueuer 是 *asynq.Client 中用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// MergeRetryQueue 把失败的元素操作投递到 asynq
type MergeRetryQueue struct {
	client Enqueuer
}

// NewMergeRetryQueue 创建 MergeRetryQueue 实例
func NewMergeRetryQueue(client Enqueuer) *MergeRetryQueue {
	if client == nil {
		panic("asynq client cannot be nil for MergeRetryQueue")
	}
	return &MergeRetryQueue{client: client}
}

// EnqueueMergeRetry 投递一个 whiteboard:merge 任务
func (q *MergeRetryQueue) EnqueueMergeRetry(ctx context.Context, whiteboardID string, added, removed []domain.Element) error {
	task, err := NewMergeRetryTask(whiteboardID, added, removed)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s for whiteboard %s: %w", TypeMergeRetry, whiteboardID, err)
	}
	return nil
}
