package hub

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/dto"
	"github.com/vbud/ewb-server/internal/service"
)

// Hub 消息类型
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
	MessageRequest    = "request"
	messageCompletion = "completion"
)

// 默认参数
const (
	defaultQueueSize    = 512
	defaultStoreTimeout = 5 * time.Second
	retryEnqueueTimeout = 2 * time.Second
)

// ErrHubStopped 表示 Hub 的事件循环已经退出
var ErrHubStopped = errors.New("hub stopped")

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type    string   // register / unregister / request
	Session *Session // 来源会话
	RawData []byte   // 仅用于 request（原始 WebSocket 消息）
	apply   func()   // 存储调用完成后回到事件循环执行的闭包
}

// RetryQueue 用于把广播后写入失败的元素操作交给后台重试
type RetryQueue interface {
	EnqueueMergeRetry(ctx context.Context, whiteboardID string, added, removed []domain.Element) error
}

// Config 是 Hub 的可选参数
type Config struct {
	QueueSize    int
	StoreTimeout time.Duration
	Retries      RetryQueue // 为 nil 时不重试
}

// Hub 是单一的事件循环：房间成员关系和会话状态只在 Run 所在的 goroutine 中修改。
// 存储调用在独立 goroutine 中执行，结果以闭包形式回到循环里处理。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	router      *Router

	whiteboards *service.WhiteboardService
	elements    *service.ElementService
	directory   *service.DirectoryService

	retries      RetryQueue
	storeTimeout time.Duration
	log          *logrus.Entry
}

// NewHub 创建 Hub 实例
func NewHub(whiteboards *service.WhiteboardService, elements *service.ElementService, directory *service.DirectoryService, cfg Config) *Hub {
	if whiteboards == nil {
		panic("WhiteboardService cannot be nil for Hub")
	}
	if elements == nil {
		panic("ElementService cannot be nil for Hub")
	}
	if directory == nil {
		panic("DirectoryService cannot be nil for Hub")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &Hub{
		messageChan:  make(chan HubMessage, cfg.QueueSize),
		done:         make(chan struct{}),
		router:       NewRouter(),
		whiteboards:  whiteboards,
		elements:     elements,
		directory:    directory,
		retries:      cfg.Retries,
		storeTimeout: cfg.StoreTimeout,
		log:          logrus.WithField("component", "hub"),
	}
}

// Run 启动 Hub 的主事件循环，直到 ctx 被取消。
// 它应该在一个单独的 goroutine 中运行，且只能运行一次。
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Hub is running...")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			h.handle(msg)
		}
	}
}

// Done 在事件循环退出后关闭
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) handle(msg HubMessage) {
	switch msg.Type {
	case MessageRegister:
		h.registerSession(msg.Session)
	case MessageUnregister:
		h.unregisterSession(msg.Session)
	case MessageRequest:
		h.handleRequest(msg.Session, msg.RawData)
	case messageCompletion:
		if msg.apply != nil {
			msg.apply()
		}
	default:
		h.log.Warnf("Hub: Received unknown message type: %s", msg.Type)
	}
}

// shutdown 终止所有会话，关闭它们的发送通道
func (h *Hub) shutdown() {
	for s := range h.router.sessions {
		h.router.Remove(s)
		s.terminate()
	}
}

// --- 公共方法 ---

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 false 表示队列已满，消息被丢弃。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		fields := logrus.Fields{"message_type": msg.Type}
		if msg.Session != nil {
			fields["session_id"] = msg.Session.ID()
		}
		h.log.WithFields(fields).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Register 请求 Hub 登记新会话 (非阻塞)
func (h *Hub) Register(s *Session) bool {
	return h.QueueMessage(HubMessage{Type: MessageRegister, Session: s})
}

// Submit 把客户端原始消息交给 Hub (非阻塞)
func (h *Hub) Submit(s *Session, raw []byte) bool {
	return h.QueueMessage(HubMessage{Type: MessageRequest, Session: s, RawData: raw})
}

// Unregister 请求 Hub 注销会话。注销不能丢，所以会阻塞到入队或 Hub 停止。
func (h *Hub) Unregister(s *Session) {
	select {
	case h.messageChan <- HubMessage{Type: MessageUnregister, Session: s}:
	case <-h.done:
	}
}

// ActiveRoomIDs 返回当前有成员的房间，可在任意 goroutine 调用
func (h *Hub) ActiveRoomIDs(ctx context.Context) ([]string, error) {
	result := make(chan []string, 1)
	if err := h.enqueue(ctx, func() { result <- h.router.ActiveRoomIDs() }); err != nil {
		return nil, err
	}
	select {
	case ids := <-result:
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubStopped
	}
}

// RefreshRoom 重新读取白板并以 updateWhiteboard 广播给房间全部成员。
// 用于修复"已广播但未落库"的编辑。
func (h *Hub) RefreshRoom(ctx context.Context, id string) error {
	wb, err := h.whiteboards.Get(ctx, id)
	if err != nil {
		return err
	}
	frame := h.frame(dto.EventUpdateWhiteboard, wb)
	return h.enqueue(ctx, func() {
		n := h.router.BroadcastAll(id, frame)
		h.log.WithFields(logrus.Fields{"whiteboard_id": id, "recipient_count": n}).Debug("Room refreshed from store")
	})
}

// --- 内部辅助 ---

// enqueue 阻塞地把闭包放回事件循环
func (h *Hub) enqueue(ctx context.Context, fn func()) error {
	select {
	case h.messageChan <- HubMessage{Type: messageCompletion, apply: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// storeWork 在事件循环之外执行存储调用，返回的闭包回到事件循环执行（可以为 nil）
type storeWork func(ctx context.Context) func()

// dispatch 把存储调用排进会话自己的队列。同一会话的调用按请求顺序逐个执行：
// 上一个调用的结果闭包在事件循环中执行完之后，下一个调用才开始。
// 会话断开后队列继续执行，已广播的编辑仍然要落库；闭包执行时再判断会话是否还在。
func (h *Hub) dispatch(s *Session, work storeWork) {
	s.pending = append(s.pending, work)
	if !s.busy {
		h.startNext(s)
	}
}

// startNext 取出会话队列中的下一个存储调用并在独立 goroutine 中执行，只在事件循环中调用
func (h *Hub) startNext(s *Session) {
	if len(s.pending) == 0 {
		s.busy = false
		return
	}
	work := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	s.busy = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
		apply := work(ctx)
		cancel()
		// Hub 已停止时队列随之丢弃
		_ = h.enqueue(context.Background(), func() {
			if apply != nil {
				apply()
			}
			h.startNext(s)
		})
	}()
}

// frame 编码一帧消息，失败时记录日志并返回 nil（Router 会忽略 nil）
func (h *Hub) frame(event string, payload any) []byte {
	b, err := dto.EncodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return nil
	}
	return b
}

func (h *Hub) emit(s *Session, event string, payload any) bool {
	return h.router.EmitTo(s, h.frame(event, payload))
}
