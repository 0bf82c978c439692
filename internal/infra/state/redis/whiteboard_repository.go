package redisstate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/repository"
)

// maxUpdateAttempts 是 WATCH 事务冲突时的最大尝试次数
const maxUpdateAttempts = 8

// RedisWhiteboardRepository 是 WhiteboardRepository 接口的 Redis 实现。
// 元素集合直接存为 Redis Set，SADD/SREM 本身就是集合并/差，
// 再用 WATCH + MULTI 保证"存在性检查 + 修改 + 读回"是一个原子整体。
type RedisWhiteboardRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisWhiteboardRepository 创建 RedisWhiteboardRepository 实例
func NewRedisWhiteboardRepository(client *redis.Client, keyPrefix string) *RedisWhiteboardRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisWhiteboardRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "wb:" // 默认前缀 "wb:" (whiteboard)
	}
	return &RedisWhiteboardRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

// namesKey 是 id -> name 的 Hash
func (r *RedisWhiteboardRepository) namesKey() string {
	return r.keyPrefix + "whiteboards:names"
}

// createdKey 是按创建时间排序的 ZSet，用于目录顺序
func (r *RedisWhiteboardRepository) createdKey() string {
	return r.keyPrefix + "whiteboards:created"
}

func (r *RedisWhiteboardRepository) dataKey(id string) string {
	return fmt.Sprintf("%swhiteboard:%s:data", r.keyPrefix, id)
}

// metaKey 是单个白板的修订计数，创建时写入、改名时递增、删除时移除。
// 写操作 WATCH 它而不是全局的名称 Hash，其他白板的变动不会打断本白板的事务。
func (r *RedisWhiteboardRepository) metaKey(id string) string {
	return fmt.Sprintf("%swhiteboard:%s:meta", r.keyPrefix, id)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis: %s: %w: %w", op, repository.ErrStoreUnavailable, err)
}

func elementKeys(elems []domain.Element) []any {
	return lo.Map(elems, func(e domain.Element, _ int) any { return e.Key() })
}

// toElementSet 把 SMEMBERS 结果转为集合。成员本身就是规范化编码，排序后输出保持稳定。
func toElementSet(members []string) domain.ElementSet {
	slices.Sort(members)
	set := make(domain.ElementSet, 0, len(members))
	for _, m := range members {
		set = append(set, domain.Element(m))
	}
	return set
}

// --- WhiteboardRepository Interface Implementation ---

// List 按创建顺序返回目录
func (r *RedisWhiteboardRepository) List(ctx context.Context) ([]domain.DirectoryEntry, error) {
	ids, err := r.client.ZRange(ctx, r.createdKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list whiteboard ids", err)
	}
	entries := make([]domain.DirectoryEntry, 0, len(ids))
	if len(ids) == 0 {
		return entries, nil
	}
	names, err := r.client.HMGet(ctx, r.namesKey(), ids...).Result()
	if err != nil {
		return nil, unavailable("list whiteboard names", err)
	}
	for i, id := range ids {
		name, ok := names[i].(string)
		if !ok {
			// 与并发删除交错，跳过
			continue
		}
		entries = append(entries, domain.DirectoryEntry{ID: id, Name: name})
	}
	return entries, nil
}

// Get 在一个 MULTI 中读取名称和元素，保证两者一致
func (r *RedisWhiteboardRepository) Get(ctx context.Context, id string) (*domain.Whiteboard, error) {
	var nameCmd *redis.StringCmd
	var membersCmd *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		nameCmd = pipe.HGet(ctx, r.namesKey(), id)
		membersCmd = pipe.SMembers(ctx, r.dataKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(fmt.Sprintf("get whiteboard %s", id), err)
	}
	name, err := nameCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrWhiteboardNotFound
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get whiteboard %s name", id), err)
	}
	return &domain.Whiteboard{ID: id, Name: name, Data: toElementSet(membersCmd.Val())}, nil
}

// Create 写入名称并登记创建时间
func (r *RedisWhiteboardRepository) Create(ctx context.Context, name string) (*domain.Whiteboard, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	var setCmd *redis.BoolCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.HSetNX(ctx, r.namesKey(), id, name)
		pipe.Set(ctx, r.metaKey(id), 1, 0)
		pipe.ZAdd(ctx, r.createdKey(), &redis.Z{Score: float64(now.UnixNano()), Member: id})
		return nil
	})
	if err != nil {
		return nil, unavailable(fmt.Sprintf("create whiteboard %q", name), err)
	}
	if !setCmd.Val() {
		return nil, repository.ErrDuplicateEntry
	}
	return &domain.Whiteboard{ID: id, Name: name, Data: domain.ElementSet{}, CreatedAt: now, UpdatedAt: now}, nil
}

// Delete 删除名称、排序项和元素集合
func (r *RedisWhiteboardRepository) Delete(ctx context.Context, id string) error {
	var delCmd *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.HDel(ctx, r.namesKey(), id)
		pipe.ZRem(ctx, r.createdKey(), id)
		pipe.Del(ctx, r.dataKey(id), r.metaKey(id))
		return nil
	})
	if err != nil {
		return unavailable(fmt.Sprintf("delete whiteboard %s", id), err)
	}
	if delCmd.Val() == 0 {
		return repository.ErrWhiteboardNotFound
	}
	return nil
}

// SetFields 整体替换 name 和/或 data
func (r *RedisWhiteboardRepository) SetFields(ctx context.Context, id string, patch domain.WhiteboardPatch) (*domain.Whiteboard, error) {
	return r.updateWithRetry(ctx, id, "set fields", func(pipe redis.Pipeliner) {
		if patch.Name != nil {
			pipe.HSet(ctx, r.namesKey(), id, *patch.Name)
			pipe.Incr(ctx, r.metaKey(id))
		}
		if patch.Data != nil {
			pipe.Del(ctx, r.dataKey(id))
			if len(*patch.Data) > 0 {
				pipe.SAdd(ctx, r.dataKey(id), elementKeys(*patch.Data)...)
			}
		}
	})
}

// MergeData 先 SREM 再 SADD，即 (data \ removed) ∪ added
func (r *RedisWhiteboardRepository) MergeData(ctx context.Context, id string, added, removed []domain.Element) (*domain.Whiteboard, error) {
	return r.updateWithRetry(ctx, id, "merge data", func(pipe redis.Pipeliner) {
		if len(removed) > 0 {
			pipe.SRem(ctx, r.dataKey(id), elementKeys(removed)...)
		}
		if len(added) > 0 {
			pipe.SAdd(ctx, r.dataKey(id), elementKeys(added)...)
		}
	})
}

// updateWithRetry 在 WATCH 下检查白板存在，再在 MULTI 中执行修改并读回最新状态。
// 只监视本白板的 meta 和 data，它们在 EXEC 前被改动时返回 redis.TxFailedErr，此时重试。
func (r *RedisWhiteboardRepository) updateWithRetry(ctx context.Context, id, op string, apply func(pipe redis.Pipeliner)) (*domain.Whiteboard, error) {
	namesKey, dataKey, metaKey := r.namesKey(), r.dataKey(id), r.metaKey(id)
	logCtx := logrus.WithFields(logrus.Fields{"whiteboard_id": id, "operation": op})

	var updated *domain.Whiteboard
	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, metaKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return repository.ErrWhiteboardNotFound
		}

		var nameCmd *redis.StringCmd
		var membersCmd *redis.StringSliceCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			apply(pipe)
			nameCmd = pipe.HGet(ctx, namesKey, id)
			membersCmd = pipe.SMembers(ctx, dataKey)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &domain.Whiteboard{ID: id, Name: nameCmd.Val(), Data: toElementSet(membersCmd.Val())}
		return nil
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, metaKey, dataKey)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			logCtx.WithField("attempt", attempt).Debug("Watched keys changed during transaction, retrying")
			continue
		case errors.Is(err, repository.ErrWhiteboardNotFound):
			return nil, err
		default:
			return nil, unavailable(fmt.Sprintf("%s on whiteboard %s", op, id), err)
		}
	}
	return nil, fmt.Errorf("redis: %s on whiteboard %s after %d attempts: %w", op, id, maxUpdateAttempts, repository.ErrOptimisticLock)
}
