package hub

import "github.com/google/uuid"

// sendBufferSize 是每个会话发送通道的缓冲大小
const sendBufferSize = 256

// SessionState 是连接会话的状态
type SessionState int

const (
	// StateConnected 握手完成，尚未加入任何白板
	StateConnected SessionState = iota
	// StateJoinedRoom 已加入某个白板的房间
	StateJoinedRoom
	// StateTerminated 连接已断开，终态
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoinedRoom:
		return "joined_room"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session 是一个客户端连接的会话状态。
// 除 ID 和 Outbound 外，所有字段只在 Hub 的事件循环中读写。
type Session struct {
	id      string
	state   SessionState
	roomID  string      // 当前所在房间（白板 ID），未加入时为空
	joinSeq uint64      // 最近一次 join 请求的序号，只应用最新的那次
	send    chan []byte // 发往客户端的消息，由 Hub 在注销时关闭

	pending []storeWork // 排队等待执行的存储调用，按请求顺序
	busy    bool        // 是否有存储调用正在执行
}

// NewSession 创建一个处于 Connected 状态的会话
func NewSession() *Session {
	return &Session{
		id:    uuid.NewString(),
		state: StateConnected,
		send:  make(chan []byte, sendBufferSize),
	}
}

func (s *Session) ID() string { return s.id }

// Outbound 返回待写往连接的消息通道，Hub 注销会话后该通道被关闭
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) terminated() bool { return s.state == StateTerminated }

// enterRoom 进入 JoinedRoom(roomID)
func (s *Session) enterRoom(roomID string) bool {
	if s.terminated() {
		return false
	}
	s.state = StateJoinedRoom
	s.roomID = roomID
	return true
}

// exitRoom 回到 Connected；终止的会话保持终止
func (s *Session) exitRoom() {
	s.roomID = ""
	if !s.terminated() {
		s.state = StateConnected
	}
}

// terminate 进入终态并关闭发送通道，重复调用无副作用
func (s *Session) terminate() {
	if s.terminated() {
		return
	}
	s.state = StateTerminated
	s.roomID = ""
	close(s.send)
}
