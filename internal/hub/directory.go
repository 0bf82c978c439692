package hub

import (
	"context"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/dto"
)

// notifyMode 决定目录快照推给谁
type notifyMode int

const (
	notifyReply     notifyMode = iota // 只发给请求的会话
	notifyBroadcast                   // 发给所有在线会话
)

// notifyDirectory 异步拉取目录快照，再按 mode 推送
func (h *Hub) notifyDirectory(mode notifyMode, s *Session) {
	h.dispatch(s, func(ctx context.Context) func() {
		entries, err := h.directory.Snapshot(ctx)
		if err != nil {
			h.log.WithError(err).Warn("Directory snapshot unavailable, skipping notify")
			return nil
		}
		return func() { h.publishDirectory(mode, s, entries) }
	})
}

// publishDirectory 在事件循环中推送已经取得的目录快照
func (h *Hub) publishDirectory(mode notifyMode, s *Session, entries []domain.DirectoryEntry) {
	frame := h.frame(dto.EventUpdateWhiteboardList, entries)
	switch mode {
	case notifyReply:
		h.router.EmitTo(s, frame)
	case notifyBroadcast:
		n := h.router.BroadcastEveryone(frame)
		h.log.WithField("recipient_count", n).Debug("Directory broadcast")
	}
}
