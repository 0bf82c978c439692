package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/dto"
	redisstate "github.com/vbud/ewb-server/internal/infra/state/redis"
	"github.com/vbud/ewb-server/internal/repository"
	"github.com/vbud/ewb-server/internal/service"
)

const (
	eventTimeout = 2 * time.Second
	quietPeriod  = 150 * time.Millisecond
)

// flakyRepo 包装真实仓库，可以让 MergeData 模拟存储故障或让添加操作变慢
type flakyRepo struct {
	repository.WhiteboardRepository
	failMerge atomic.Bool
	addDelay  atomic.Int64 // 含 added 的 MergeData 额外等待的纳秒数
	merges    atomic.Int32
	finished  atomic.Int32
}

func (f *flakyRepo) MergeData(ctx context.Context, id string, added, removed []domain.Element) (*domain.Whiteboard, error) {
	f.merges.Add(1)
	defer f.finished.Add(1)
	if f.failMerge.Load() {
		return nil, fmt.Errorf("%w: injected failure", repository.ErrStoreUnavailable)
	}
	if d := time.Duration(f.addDelay.Load()); d > 0 && len(added) > 0 {
		time.Sleep(d)
	}
	return f.WhiteboardRepository.MergeData(ctx, id, added, removed)
}

type retryCall struct {
	id             string
	added, removed []domain.Element
}

type fakeRetries struct{ calls chan retryCall }

func (f *fakeRetries) EnqueueMergeRetry(_ context.Context, id string, added, removed []domain.Element) error {
	f.calls <- retryCall{id: id, added: added, removed: removed}
	return nil
}

type testEnv struct {
	hub     *Hub
	repo    *flakyRepo
	retries *fakeRetries
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &flakyRepo{WhiteboardRepository: redisstate.NewRedisWhiteboardRepository(client, "hubtest:")}
	retries := &fakeRetries{calls: make(chan retryCall, 8)}
	h := NewHub(
		service.NewWhiteboardService(repo),
		service.NewElementService(repo),
		service.NewDirectoryService(repo),
		Config{StoreTimeout: time.Second, Retries: retries},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return &testEnv{hub: h, repo: repo, retries: retries}
}

// connect 登记一个会话，并消费连接时的 hello 和目录
func (e *testEnv) connect(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	require.True(t, e.hub.Register(s))
	expectEvent(t, s, dto.EventHello)
	expectEvent(t, s, dto.EventUpdateWhiteboardList)
	return s
}

func (e *testEnv) send(t *testing.T, s *Session, event string, data any) {
	t.Helper()
	frame, err := dto.EncodeFrame(event, data)
	require.NoError(t, err)
	require.True(t, e.hub.Submit(s, frame))
}

// create 通过 a 创建白板，消费所有会话收到的目录广播，返回新白板
func (e *testEnv) create(t *testing.T, a *Session, name string, others ...*Session) domain.Whiteboard {
	t.Helper()
	e.send(t, a, dto.EventCreateWhiteboard, name)
	expectEvent(t, a, dto.EventUpdateWhiteboardList)
	var wb domain.Whiteboard
	decodeData(t, expectEvent(t, a, dto.EventWhiteboardCreated), &wb)
	for _, o := range others {
		expectEvent(t, o, dto.EventUpdateWhiteboardList)
	}
	return wb
}

func (e *testEnv) join(t *testing.T, s *Session, id string) domain.Whiteboard {
	t.Helper()
	e.send(t, s, dto.EventJoinWhiteboard, id)
	var wb domain.Whiteboard
	decodeData(t, expectEvent(t, s, dto.EventUpdateWhiteboard), &wb)
	return wb
}

func expectEvent(t *testing.T, s *Session, event string) dto.Envelope {
	t.Helper()
	select {
	case frame, ok := <-s.send:
		require.True(t, ok, "session channel closed while waiting for %s", event)
		env, err := dto.DecodeEnvelope(frame)
		require.NoError(t, err)
		require.Equal(t, event, env.Event, "unexpected frame %s", string(frame))
		return env
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for %s", event)
		return dto.Envelope{}
	}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case frame, ok := <-s.send:
		if ok {
			t.Fatalf("unexpected frame %s", string(frame))
		}
	case <-time.After(quietPeriod):
	}
}

func expectClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case _, ok := <-s.send:
		require.False(t, ok, "expected closed session channel")
	case <-time.After(eventTimeout):
		t.Fatal("session channel not closed")
	}
}

func decodeData(t *testing.T, env dto.Envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func directoryIDs(t *testing.T, env dto.Envelope) []string {
	var entries []domain.DirectoryEntry
	decodeData(t, env, &entries)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestHub_ConnectGreetsAndSendsDirectory(t *testing.T) {
	env := newTestEnv(t)
	s := NewSession()
	require.True(t, env.hub.Register(s))

	expectEvent(t, s, dto.EventHello)
	list := expectEvent(t, s, dto.EventUpdateWhiteboardList)
	assert.JSONEq(t, `[]`, string(list.Data))

	env.send(t, s, dto.EventHello, nil)
	expectEvent(t, s, dto.EventUpdateWhiteboardList)
}

func TestHub_Sprint1Scenario(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)

	wb := env.create(t, a, "Sprint1", b)
	assert.Equal(t, "Sprint1", wb.Name)
	assert.Empty(t, wb.Data)

	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)

	e1 := domain.MustElement(`{"id":"e1","type":"rect","x":10}`)
	env.send(t, a, dto.EventAddElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{e1}})

	var added dto.ElementsRequest
	decodeData(t, expectEvent(t, b, dto.EventElementsAdded), &added)
	assert.Equal(t, wb.ID, added.ID)
	assert.Equal(t, []string{e1.Key()}, domain.ElementSet(added.Elements).Keys())
	expectNoEvent(t, a)

	// 广播先于落库，等写入完成后再让第三个客户端加入
	require.Eventually(t, func() bool {
		stored, err := env.repo.Get(context.Background(), wb.ID)
		return err == nil && len(stored.Data) == 1
	}, eventTimeout, 10*time.Millisecond)

	c := env.connect(t)
	joined := env.join(t, c, wb.ID)
	assert.Equal(t, []string{e1.Key()}, joined.Data.Keys())
}

func TestHub_CreateAndDeleteBroadcastDirectory(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)

	env.send(t, a, dto.EventCreateWhiteboard, "X")
	listA := expectEvent(t, a, dto.EventUpdateWhiteboardList)
	var created domain.Whiteboard
	decodeData(t, expectEvent(t, a, dto.EventWhiteboardCreated), &created)
	listB := expectEvent(t, b, dto.EventUpdateWhiteboardList)

	assert.Equal(t, []string{created.ID}, directoryIDs(t, listA))
	assert.Equal(t, []string{created.ID}, directoryIDs(t, listB))
	expectNoEvent(t, b)

	env.send(t, b, dto.EventDeleteWhiteboard, created.ID)
	assert.Empty(t, directoryIDs(t, expectEvent(t, a, dto.EventUpdateWhiteboardList)))
	assert.Empty(t, directoryIDs(t, expectEvent(t, b, dto.EventUpdateWhiteboardList)))
}

func TestHub_UpdateBroadcastsToWholeRoom(t *testing.T) {
	env := newTestEnv(t)
	a, b, outsider := env.connect(t), env.connect(t), env.connect(t)
	wb := env.create(t, a, "old", b, outsider)
	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)

	env.send(t, a, dto.EventUpdateWhiteboard, map[string]any{"id": wb.ID, "name": "renamed"})

	for _, s := range []*Session{a, b} {
		var got domain.Whiteboard
		decodeData(t, expectEvent(t, s, dto.EventUpdateWhiteboard), &got)
		assert.Equal(t, "renamed", got.Name)
	}
	expectNoEvent(t, outsider)
	expectNoEvent(t, a)
}

func TestHub_UpdateFromNonMemberAlsoRepliesToSender(t *testing.T) {
	env := newTestEnv(t)
	a, editor := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", editor)
	env.join(t, a, wb.ID)

	data := []json.RawMessage{json.RawMessage(`{"id":"x"}`)}
	env.send(t, editor, dto.EventUpdateWhiteboard, map[string]any{"id": wb.ID, "data": data})

	var got domain.Whiteboard
	decodeData(t, expectEvent(t, a, dto.EventUpdateWhiteboard), &got)
	assert.Equal(t, []string{`{"id":"x"}`}, got.Data.Keys())
	expectEvent(t, editor, dto.EventUpdateWhiteboard)
}

func TestHub_RemoveElementsExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", b)
	x, y := domain.MustElement(`"x"`), domain.MustElement(`"y"`)
	_, err := env.repo.MergeData(context.Background(), wb.ID, []domain.Element{x, y}, nil)
	require.NoError(t, err)
	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)

	env.send(t, b, dto.EventRemoveElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{x}})

	expectEvent(t, a, dto.EventElementsRemoved)
	expectNoEvent(t, b)
	require.Eventually(t, func() bool {
		stored, err := env.repo.Get(context.Background(), wb.ID)
		return err == nil && len(stored.Data) == 1 && stored.Data[0].Key() == y.Key()
	}, eventTimeout, 10*time.Millisecond)
}

func TestHub_SameSessionEditsPersistInRequestOrder(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", b)
	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)
	env.repo.addDelay.Store(int64(100 * time.Millisecond))

	e1 := domain.MustElement(`{"id":"e1"}`)
	env.send(t, a, dto.EventAddElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{e1}})
	env.send(t, a, dto.EventRemoveElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{e1}})

	expectEvent(t, b, dto.EventElementsAdded)
	expectEvent(t, b, dto.EventElementsRemoved)

	// 慢的添加必须先于删除落库，否则 e1 会在存储中复活
	require.Eventually(t, func() bool { return env.repo.finished.Load() == 2 }, eventTimeout, 10*time.Millisecond)
	stored, err := env.repo.Get(context.Background(), wb.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Data, "存储应与客户端看到的最终状态一致")

	c := env.connect(t)
	assert.Empty(t, env.join(t, c, wb.ID).Data)
}

func TestHub_SameSessionRenamesKeepLastValue(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t)
	wb := env.create(t, a, "v0")
	env.join(t, a, wb.ID)

	for _, name := range []string{"v1", "v2", "v3"} {
		env.send(t, a, dto.EventUpdateWhiteboard, map[string]any{"id": wb.ID, "name": name})
	}
	var last domain.Whiteboard
	for i := 0; i < 3; i++ {
		decodeData(t, expectEvent(t, a, dto.EventUpdateWhiteboard), &last)
	}

	assert.Equal(t, "v3", last.Name)
	stored, err := env.repo.Get(context.Background(), wb.ID)
	require.NoError(t, err)
	assert.Equal(t, "v3", stored.Name)
}

func TestHub_QueuedEditsPersistAfterDisconnect(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t)
	wb := env.create(t, a, "board")
	env.join(t, a, wb.ID)
	env.repo.addDelay.Store(int64(50 * time.Millisecond))

	e1, e2 := domain.MustElement(`"e1"`), domain.MustElement(`"e2"`)
	env.send(t, a, dto.EventAddElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{e1}})
	env.send(t, a, dto.EventAddElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{e2}})
	env.hub.Unregister(a)
	expectClosed(t, a)

	require.Eventually(t, func() bool {
		stored, err := env.repo.Get(context.Background(), wb.ID)
		return err == nil && len(stored.Data) == 2
	}, eventTimeout, 10*time.Millisecond)
}

func TestHub_JoinMissingWhiteboardErrorsOnlyRequester(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)

	env.send(t, a, dto.EventJoinWhiteboard, "does-not-exist")

	var payload dto.ErrorPayload
	decodeData(t, expectEvent(t, a, dto.EventError), &payload)
	assert.Equal(t, dto.EventJoinWhiteboard, payload.Event)
	assert.Equal(t, service.ErrWhiteboardNotFound.Error(), payload.Message)
	expectNoEvent(t, b)
}

func TestHub_InvalidElementsAreDroppedWithoutStoreCall(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", b)
	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)

	env.send(t, a, dto.EventAddElements, map[string]any{"id": wb.ID, "elements": []any{}})
	env.send(t, a, dto.EventRemoveElements, map[string]any{"elements": []any{1}})
	require.True(t, env.hub.Submit(a, []byte(`not json`)))

	for i := 0; i < 3; i++ {
		expectEvent(t, a, dto.EventError)
	}
	expectNoEvent(t, b)
	assert.Zero(t, env.repo.merges.Load())
}

func TestHub_UnknownEventIsRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t)

	env.send(t, a, "drawCircle", nil)

	var payload dto.ErrorPayload
	decodeData(t, expectEvent(t, a, dto.EventError), &payload)
	assert.Equal(t, "drawCircle", payload.Event)
}

func TestHub_FailedMergeAfterBroadcastIsQueuedForRetry(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", b)
	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)
	env.repo.failMerge.Store(true)

	e := domain.MustElement(`{"id":"lost"}`)
	env.send(t, a, dto.EventAddElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{e}})

	expectEvent(t, b, dto.EventElementsAdded)
	select {
	case call := <-env.retries.calls:
		assert.Equal(t, wb.ID, call.id)
		assert.Equal(t, []string{e.Key()}, domain.ElementSet(call.added).Keys())
		assert.Empty(t, call.removed)
	case <-time.After(eventTimeout):
		t.Fatal("merge retry was not enqueued")
	}
	expectNoEvent(t, a)
}

func TestHub_ElementsForDeletedWhiteboardErrorToSender(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t)

	env.send(t, a, dto.EventAddElements, dto.ElementsRequest{ID: "gone", Elements: []domain.Element{domain.MustElement(`1`)}})

	var payload dto.ErrorPayload
	decodeData(t, expectEvent(t, a, dto.EventError), &payload)
	assert.Equal(t, dto.EventAddElements, payload.Event)
	select {
	case <-env.retries.calls:
		t.Fatal("not found must not be retried")
	default:
	}
}

func TestHub_RejoinMovesSessionAndActiveRooms(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect(t)
	first := env.create(t, a, "first")
	second := env.create(t, a, "second")

	env.join(t, a, first.ID)
	ids, err := env.hub.ActiveRoomIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids)

	env.join(t, a, second.ID)
	ids, err = env.hub.ActiveRoomIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids)
}

func TestHub_UnregisterClosesSessionAndDropsLateResults(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", b)
	env.join(t, a, wb.ID)
	env.join(t, b, wb.ID)

	env.send(t, a, dto.EventJoinWhiteboard, wb.ID)
	env.hub.Unregister(a)
	// join 的结果可能在注销之后才回来，必须被忽略而不是写入已关闭的通道
	frames := 0
	for range a.send {
		frames++
	}
	assert.LessOrEqual(t, frames, 1)

	env.send(t, b, dto.EventAddElements, dto.ElementsRequest{ID: wb.ID, Elements: []domain.Element{domain.MustElement(`2`)}})
	ids, err := env.hub.ActiveRoomIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{wb.ID}, ids)

	env.send(t, a, dto.EventHello, nil)
	expectNoEvent(t, b)
}

func TestHub_RefreshRoomRebroadcastsStoredState(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.connect(t), env.connect(t)
	wb := env.create(t, a, "board", b)
	env.join(t, a, wb.ID)

	e := domain.MustElement(`{"id":"server-side"}`)
	_, err := env.repo.WhiteboardRepository.MergeData(context.Background(), wb.ID, []domain.Element{e}, nil)
	require.NoError(t, err)

	require.NoError(t, env.hub.RefreshRoom(context.Background(), wb.ID))

	var got domain.Whiteboard
	decodeData(t, expectEvent(t, a, dto.EventUpdateWhiteboard), &got)
	assert.Equal(t, []string{e.Key()}, got.Data.Keys())
	expectNoEvent(t, b)

	err = env.hub.RefreshRoom(context.Background(), "gone")
	assert.ErrorIs(t, err, service.ErrWhiteboardNotFound)
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := redisstate.NewRedisWhiteboardRepository(client, "")
	h := NewHub(service.NewWhiteboardService(repo), service.NewElementService(repo), service.NewDirectoryService(repo), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	s := NewSession()
	require.True(t, h.Register(s))
	expectEvent(t, s, dto.EventHello)

	cancel()
	<-h.Done()
	for range s.send {
	}

	_, err := h.ActiveRoomIDs(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
	assert.NotPanics(t, func() { h.Unregister(s) }, "Hub 停止后注销不阻塞")
}
