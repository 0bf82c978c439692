package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/dto"
	"github.com/vbud/ewb-server/internal/service"
)

// registerSession 登记新连接：问候并回复当前目录
func (h *Hub) registerSession(s *Session) {
	if s == nil || s.terminated() {
		return
	}
	h.router.Add(s)
	h.log.WithFields(logrus.Fields{
		"session_id": s.ID(),
		"connected":  h.router.Connected(),
	}).Info("Session registered")

	h.emit(s, dto.EventHello, nil)
	h.notifyDirectory(notifyReply, s)
}

// unregisterSession 让会话离开房间并进入终态
func (h *Hub) unregisterSession(s *Session) {
	if s == nil || s.terminated() {
		return
	}
	roomID := s.roomID
	h.router.Remove(s)
	s.terminate()
	h.log.WithFields(logrus.Fields{
		"session_id":    s.ID(),
		"whiteboard_id": roomID,
		"connected":     h.router.Connected(),
	}).Info("Session unregistered")
}

// handleRequest 解析并分发一条客户端消息
func (h *Hub) handleRequest(s *Session, raw []byte) {
	if s == nil || s.terminated() {
		return
	}
	env, err := dto.DecodeEnvelope(raw)
	if err != nil {
		h.reject(s, "", err)
		return
	}

	switch env.Event {
	case dto.EventHello:
		h.notifyDirectory(notifyReply, s)
	case dto.EventJoinWhiteboard:
		h.handleJoin(s, env.Data)
	case dto.EventCreateWhiteboard:
		h.handleCreate(s, env.Data)
	case dto.EventDeleteWhiteboard:
		h.handleDelete(s, env.Data)
	case dto.EventUpdateWhiteboard:
		h.handleUpdate(s, env.Data)
	case dto.EventAddElements, dto.EventRemoveElements:
		h.handleElements(s, env.Event, env.Data)
	default:
		h.reject(s, env.Event, fmt.Errorf("%w: unknown event %q", dto.ErrInvalidPayload, env.Event))
	}
}

func (h *Hub) handleJoin(s *Session, data json.RawMessage) {
	req, err := dto.ParseJoin(data)
	if err != nil {
		h.reject(s, dto.EventJoinWhiteboard, err)
		return
	}
	s.joinSeq++
	seq := s.joinSeq

	h.dispatch(s, func(ctx context.Context) func() {
		wb, err := h.whiteboards.Get(ctx, req.ID)
		return func() {
			if s.terminated() || s.joinSeq != seq {
				h.log.WithFields(logrus.Fields{"session_id": s.ID(), "whiteboard_id": req.ID}).Debug("Stale join result ignored")
				return
			}
			if err != nil {
				h.storeFailure(s, dto.EventJoinWhiteboard, req.ID, err)
				return
			}
			h.router.Join(s, wb.ID)
			h.emit(s, dto.EventUpdateWhiteboard, wb)
			h.log.WithFields(logrus.Fields{
				"session_id":    s.ID(),
				"whiteboard_id": wb.ID,
				"members":       h.router.MemberCount(wb.ID),
			}).Info("Session joined whiteboard")
		}
	})
}

func (h *Hub) handleCreate(s *Session, data json.RawMessage) {
	req, err := dto.ParseCreate(data)
	if err != nil {
		h.reject(s, dto.EventCreateWhiteboard, err)
		return
	}

	h.dispatch(s, func(ctx context.Context) func() {
		wb, err := h.whiteboards.Create(ctx, req.Name)
		if err != nil {
			return func() { h.storeFailure(s, dto.EventCreateWhiteboard, "", err) }
		}
		entries, dirErr := h.directory.Snapshot(ctx)
		return func() {
			if dirErr != nil {
				h.log.WithError(dirErr).Warn("Directory snapshot unavailable after create")
			} else {
				h.publishDirectory(notifyBroadcast, s, entries)
			}
			h.emit(s, dto.EventWhiteboardCreated, wb)
		}
	})
}

func (h *Hub) handleDelete(s *Session, data json.RawMessage) {
	req, err := dto.ParseDelete(data)
	if err != nil {
		h.reject(s, dto.EventDeleteWhiteboard, err)
		return
	}

	h.dispatch(s, func(ctx context.Context) func() {
		if err := h.whiteboards.Delete(ctx, req.ID); err != nil {
			return func() { h.storeFailure(s, dto.EventDeleteWhiteboard, req.ID, err) }
		}
		entries, dirErr := h.directory.Snapshot(ctx)
		if dirErr != nil {
			h.log.WithError(dirErr).Warn("Directory snapshot unavailable after delete")
			return nil
		}
		return func() { h.publishDirectory(notifyBroadcast, s, entries) }
	})
}

func (h *Hub) handleUpdate(s *Session, data json.RawMessage) {
	req, err := dto.ParseUpdate(data)
	if err != nil {
		h.reject(s, dto.EventUpdateWhiteboard, err)
		return
	}

	h.dispatch(s, func(ctx context.Context) func() {
		wb, err := h.whiteboards.Update(ctx, req.ID, req.Patch())
		return func() {
			if err != nil {
				h.storeFailure(s, dto.EventUpdateWhiteboard, req.ID, err)
				return
			}
			frame := h.frame(dto.EventUpdateWhiteboard, wb)
			n := h.router.BroadcastAll(wb.ID, frame)
			// 发送者不在该房间时也要看到确认后的值
			if roomID, _ := h.router.RoomOf(s); roomID != wb.ID {
				h.router.EmitTo(s, frame)
			}
			h.log.WithFields(logrus.Fields{"whiteboard_id": wb.ID, "recipient_count": n}).Debug("Whiteboard update broadcast")
		}
	})
}

// handleElements 先广播给房间其他成员，再写入存储。
// 写入失败时其他客户端已经看到了这次编辑，只能记录并交给重试/对账。
func (h *Hub) handleElements(s *Session, event string, data json.RawMessage) {
	req, err := dto.ParseElements(data)
	if err != nil {
		h.reject(s, event, err)
		return
	}

	outEvent := dto.EventElementsAdded
	var added, removed []domain.Element
	if event == dto.EventAddElements {
		added = req.Elements
	} else {
		outEvent = dto.EventElementsRemoved
		removed = req.Elements
	}

	n := h.router.BroadcastExcluding(req.ID, s, h.frame(outEvent, req))
	logCtx := h.log.WithFields(logrus.Fields{
		"session_id":      s.ID(),
		"whiteboard_id":   req.ID,
		"event":           event,
		"element_count":   len(req.Elements),
		"recipient_count": n,
	})
	logCtx.Debug("Element edit broadcast")

	h.dispatch(s, func(ctx context.Context) func() {
		var err error
		if added != nil {
			_, err = h.elements.ApplyAdd(ctx, req.ID, added)
		} else {
			_, err = h.elements.ApplyRemove(ctx, req.ID, removed)
		}
		if err == nil {
			return nil
		}
		logCtx.WithError(err).Error("Element edit visible to room but not persisted")
		if errors.Is(err, service.ErrStoreUnavailable) {
			h.enqueueRetry(req.ID, added, removed)
			return nil
		}
		return func() { h.storeFailure(s, event, req.ID, err) }
	})
}

// enqueueRetry 把未落库的元素操作交给后台任务重试
func (h *Hub) enqueueRetry(id string, added, removed []domain.Element) {
	if h.retries == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), retryEnqueueTimeout)
	defer cancel()
	logCtx := h.log.WithField("whiteboard_id", id)
	if err := h.retries.EnqueueMergeRetry(ctx, id, added, removed); err != nil {
		logCtx.WithError(err).Error("Failed to enqueue merge retry")
		return
	}
	logCtx.Info("Merge retry enqueued")
}

// reject 丢弃无效请求，只回复请求者一个 error 事件
func (h *Hub) reject(s *Session, event string, err error) {
	h.log.WithFields(logrus.Fields{"session_id": s.ID(), "event": event}).WithError(err).Warn("Invalid request dropped")
	h.emit(s, dto.EventError, dto.ErrorPayload{Event: event, Message: err.Error()})
}

// storeFailure 处理存储调用的错误：NotFound 和无效请求只告诉请求者，存储不可用时只记录日志
func (h *Hub) storeFailure(s *Session, event, id string, err error) {
	logCtx := h.log.WithFields(logrus.Fields{"session_id": s.ID(), "whiteboard_id": id, "event": event})
	switch {
	case errors.Is(err, service.ErrWhiteboardNotFound):
		logCtx.Warn("Whiteboard not found")
		h.emit(s, dto.EventError, dto.ErrorPayload{Event: event, Message: service.ErrWhiteboardNotFound.Error()})
	case errors.Is(err, service.ErrInvalidRequest):
		logCtx.WithError(err).Warn("Request rejected by service")
		h.emit(s, dto.EventError, dto.ErrorPayload{Event: event, Message: service.ErrInvalidRequest.Error()})
	default:
		logCtx.WithError(err).Error("Store unavailable, request dropped")
	}
}
