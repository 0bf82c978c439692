package dto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vbud/ewb-server/internal/domain"
)

// WebSocket 事件名
const (
	EventHello                = "hello"                // 双向：服务端问候 / 客户端请求目录
	EventUpdateWhiteboardList = "updateWhiteboardList" // s→c 目录快照
	EventJoinWhiteboard       = "joinWhiteboard"       // c→s
	EventUpdateWhiteboard     = "updateWhiteboard"     // 双向：加入回复、广播 / 客户端更新请求
	EventCreateWhiteboard     = "createWhiteboard"     // c→s
	EventWhiteboardCreated    = "whiteboardCreated"    // s→c 创建成功回复
	EventDeleteWhiteboard     = "deleteWhiteboard"     // c→s
	EventAddElements          = "addElements"          // c→s
	EventElementsAdded        = "elementsAdded"        // s→c，不发给发送者
	EventRemoveElements       = "removeElements"       // c→s
	EventElementsRemoved      = "elementsRemoved"      // s→c，不发给发送者
	EventError                = "error"                // s→c，只发给请求者
)

// ErrInvalidPayload 表示消息无法解析或未通过校验
var ErrInvalidPayload = errors.New("invalid payload")

var validate = validator.New()

// Envelope 是每一帧 WebSocket 消息的外层结构
type Envelope struct {
	Event string          `json:"event" validate:"required,max=64"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest 对应 joinWhiteboard，线上格式是裸字符串 id
type JoinRequest struct {
	ID string `validate:"required,max=64"`
}

// CreateRequest 对应 createWhiteboard，线上格式是裸字符串 name
type CreateRequest struct {
	Name string `validate:"required,max=191"`
}

// DeleteRequest 对应 deleteWhiteboard，线上格式是裸字符串 id
type DeleteRequest struct {
	ID string `validate:"required,max=64"`
}

// UpdateRequest 对应客户端发出的 updateWhiteboard，name 和 data 至少有一个
type UpdateRequest struct {
	ID   string             `json:"id" validate:"required,max=64"`
	Name *string            `json:"name,omitempty" validate:"omitempty,min=1,max=191"`
	Data *domain.ElementSet `json:"data,omitempty"`
}

// Patch 转换为仓库层的部分更新
func (r UpdateRequest) Patch() domain.WhiteboardPatch {
	patch := domain.WhiteboardPatch{Name: r.Name}
	if r.Data != nil {
		data := domain.NewElementSet(*r.Data...)
		patch.Data = &data
	}
	return patch
}

// ElementsRequest 对应 addElements / removeElements，也原样作为 elementsAdded / elementsRemoved 广播
type ElementsRequest struct {
	ID       string           `json:"id" validate:"required,max=64"`
	Elements []domain.Element `json:"elements" validate:"required,min=1"`
}

// ErrorPayload 是 error 事件的内容
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// DecodeEnvelope 解析一帧原始消息
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := validate.Struct(env); err != nil {
		return env, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return env, nil
}

// EncodeFrame 构造一帧发往客户端的消息，data 为 nil 时省略
func EncodeFrame(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func decodeString(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return s, nil
}

func check(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// ParseJoin 解析 joinWhiteboard 的 data
func ParseJoin(data json.RawMessage) (JoinRequest, error) {
	id, err := decodeString(data)
	if err != nil {
		return JoinRequest{}, err
	}
	req := JoinRequest{ID: id}
	return req, check(req)
}

// ParseCreate 解析 createWhiteboard 的 data
func ParseCreate(data json.RawMessage) (CreateRequest, error) {
	name, err := decodeString(data)
	if err != nil {
		return CreateRequest{}, err
	}
	req := CreateRequest{Name: name}
	return req, check(req)
}

// ParseDelete 解析 deleteWhiteboard 的 data
func ParseDelete(data json.RawMessage) (DeleteRequest, error) {
	id, err := decodeString(data)
	if err != nil {
		return DeleteRequest{}, err
	}
	req := DeleteRequest{ID: id}
	return req, check(req)
}

// ParseUpdate 解析客户端的 updateWhiteboard
func ParseUpdate(data json.RawMessage) (UpdateRequest, error) {
	var req UpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := check(req); err != nil {
		return req, err
	}
	if req.Name == nil && req.Data == nil {
		return req, fmt.Errorf("%w: name or data is required", ErrInvalidPayload)
	}
	return req, nil
}

// ParseElements 解析 addElements / removeElements
func ParseElements(data json.RawMessage) (ElementsRequest, error) {
	var req ElementsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	req.Elements = domain.NewElementSet(req.Elements...)
	return req, check(req)
}
