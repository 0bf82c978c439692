package hub

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// Router 维护白板 ID 到会话集合的映射（房间），并决定每条消息发给谁。
// Router 不是并发安全的，只能在 Hub 的事件循环中使用。
type Router struct {
	// 所有在线会话，用于目录广播
	sessions map[*Session]struct{}
	// map[whiteboardID]map[*Session]struct{}
	rooms map[string]map[*Session]struct{}
	log   *logrus.Entry
}

// NewRouter 创建空的 Router
func NewRouter() *Router {
	return &Router{
		sessions: make(map[*Session]struct{}),
		rooms:    make(map[string]map[*Session]struct{}),
		log:      logrus.WithField("component", "router"),
	}
}

// Add 登记一个在线会话
func (r *Router) Add(s *Session) {
	if s == nil || s.terminated() {
		return
	}
	r.sessions[s] = struct{}{}
}

// Remove 让会话离开房间并注销
func (r *Router) Remove(s *Session) {
	if s == nil {
		return
	}
	r.Leave(s)
	delete(r.sessions, s)
}

// Connected 返回在线会话数
func (r *Router) Connected() int { return len(r.sessions) }

// Join 把会话加入房间 roomID。一个会话同时只在一个房间里，加入新房间会先离开旧房间。
func (r *Router) Join(s *Session, roomID string) bool {
	if s == nil || s.terminated() || roomID == "" {
		return false
	}
	if s.roomID == roomID {
		return true
	}
	r.Leave(s)

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[roomID] = members
		r.log.WithField("whiteboard_id", roomID).Debug("Room created")
	}
	members[s] = struct{}{}
	s.enterRoom(roomID)
	return true
}

// Leave 让会话离开当前房间，房间变空时删除
func (r *Router) Leave(s *Session) {
	if s == nil || s.roomID == "" {
		return
	}
	roomID := s.roomID
	if members, ok := r.rooms[roomID]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(r.rooms, roomID)
			r.log.WithField("whiteboard_id", roomID).Debug("Room empty, removed")
		}
	}
	s.exitRoom()
}

// RoomOf 返回会话当前所在的房间
func (r *Router) RoomOf(s *Session) (string, bool) {
	if s == nil || s.roomID == "" {
		return "", false
	}
	return s.roomID, true
}

// MemberCount 返回房间成员数
func (r *Router) MemberCount(roomID string) int { return len(r.rooms[roomID]) }

// ActiveRoomIDs 返回所有非空房间，按 ID 排序
func (r *Router) ActiveRoomIDs() []string {
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EmitTo 单播给一个会话
func (r *Router) EmitTo(s *Session, frame []byte) bool {
	return r.deliver(s, frame)
}

// BroadcastExcluding 发给房间内除 sender 外的所有会话，返回成功投递数
func (r *Router) BroadcastExcluding(roomID string, sender *Session, frame []byte) int {
	sent := 0
	for s := range r.rooms[roomID] {
		if s == sender {
			continue
		}
		if r.deliver(s, frame) {
			sent++
		}
	}
	return sent
}

// BroadcastAll 发给房间内所有会话（包括发送者）
func (r *Router) BroadcastAll(roomID string, frame []byte) int {
	return r.BroadcastExcluding(roomID, nil, frame)
}

// BroadcastEveryone 发给所有在线会话，用于目录更新
func (r *Router) BroadcastEveryone(frame []byte) int {
	sent := 0
	for s := range r.sessions {
		if r.deliver(s, frame) {
			sent++
		}
	}
	return sent
}

// deliver 非阻塞地放入会话的发送队列，避免单个慢客户端阻塞 Hub
func (r *Router) deliver(s *Session, frame []byte) bool {
	if s == nil || s.terminated() || frame == nil {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		r.log.WithField("session_id", s.id).Warn("Session send channel full, message dropped")
		return false
	}
}
