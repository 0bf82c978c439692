package dto_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/dto"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := dto.DecodeEnvelope([]byte(`{"event":"joinWhiteboard","data":"wb-1"}`))
	require.NoError(t, err)
	assert.Equal(t, dto.EventJoinWhiteboard, env.Event)
	assert.JSONEq(t, `"wb-1"`, string(env.Data))

	env, err = dto.DecodeEnvelope([]byte(`{"event":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, dto.EventHello, env.Event)
	assert.Empty(t, env.Data)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      `hello`,
		"missing event": `{"data":1}`,
		"long event":    `{"event":"` + strings.Repeat("x", 65) + `"}`,
		"wrong type":    `{"event":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := dto.DecodeEnvelope([]byte(raw))
			assert.ErrorIs(t, err, dto.ErrInvalidPayload)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	frame, err := dto.EncodeFrame(dto.EventHello, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"hello"}`, string(frame))

	entries := []domain.DirectoryEntry{{ID: "1", Name: "A"}}
	frame, err = dto.EncodeFrame(dto.EventUpdateWhiteboardList, entries)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"updateWhiteboardList","data":[{"id":"1","name":"A"}]}`, string(frame))

	_, err = dto.EncodeFrame(dto.EventHello, make(chan int))
	assert.Error(t, err)
}

func TestParseJoinCreateDelete(t *testing.T) {
	join, err := dto.ParseJoin(json.RawMessage(`"wb-1"`))
	require.NoError(t, err)
	assert.Equal(t, "wb-1", join.ID)

	create, err := dto.ParseCreate(json.RawMessage(`"Sprint1"`))
	require.NoError(t, err)
	assert.Equal(t, "Sprint1", create.Name)

	del, err := dto.ParseDelete(json.RawMessage(`"wb-1"`))
	require.NoError(t, err)
	assert.Equal(t, "wb-1", del.ID)

	_, err = dto.ParseJoin(json.RawMessage(`""`))
	assert.ErrorIs(t, err, dto.ErrInvalidPayload, "id 不能为空")
	_, err = dto.ParseJoin(nil)
	assert.ErrorIs(t, err, dto.ErrInvalidPayload)
	_, err = dto.ParseCreate(json.RawMessage(`{"name":"x"}`))
	assert.ErrorIs(t, err, dto.ErrInvalidPayload, "name 是裸字符串")
	_, err = dto.ParseCreate(json.RawMessage(`"` + strings.Repeat("n", 192) + `"`))
	assert.ErrorIs(t, err, dto.ErrInvalidPayload)
	_, err = dto.ParseDelete(json.RawMessage(`42`))
	assert.ErrorIs(t, err, dto.ErrInvalidPayload)
}

func TestParseUpdate(t *testing.T) {
	req, err := dto.ParseUpdate(json.RawMessage(`{"id":"wb-1","name":"renamed"}`))
	require.NoError(t, err)
	patch := req.Patch()
	require.NotNil(t, patch.Name)
	assert.Equal(t, "renamed", *patch.Name)
	assert.Nil(t, patch.Data)

	req, err = dto.ParseUpdate(json.RawMessage(`{"id":"wb-1","data":[{"b":1,"a":2},{"a":2,"b":1}]}`))
	require.NoError(t, err)
	patch = req.Patch()
	assert.Nil(t, patch.Name)
	require.NotNil(t, patch.Data)
	assert.Equal(t, []string{`{"a":2,"b":1}`}, patch.Data.Keys(), "整体替换的 data 也要去重")

	req, err = dto.ParseUpdate(json.RawMessage(`{"id":"wb-1","data":[]}`))
	require.NoError(t, err, "清空白板是合法的")
	require.NotNil(t, req.Patch().Data)
	assert.Empty(t, *req.Patch().Data)
}

func TestParseUpdate_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"no fields":  `{"id":"wb-1"}`,
		"no id":      `{"name":"x"}`,
		"empty name": `{"id":"wb-1","name":""}`,
		"bad data":   `{"id":"wb-1","data":{"a":1}}`,
		"not object": `"wb-1"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := dto.ParseUpdate(json.RawMessage(raw))
			assert.ErrorIs(t, err, dto.ErrInvalidPayload)
		})
	}
}

func TestParseElements(t *testing.T) {
	req, err := dto.ParseElements(json.RawMessage(`{"id":"wb-1","elements":[{"id":"e1"},{ "id" : "e1" },{"id":"e2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "wb-1", req.ID)
	assert.Len(t, req.Elements, 2, "重复元素只保留一个")

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"wb-1","elements":[{"id":"e1"},{"id":"e2"}]}`, string(b))
}

func TestParseElements_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"missing id":       `{"elements":[1]}`,
		"missing elements": `{"id":"wb-1"}`,
		"empty elements":   `{"id":"wb-1","elements":[]}`,
		"null element":     `{"id":"wb-1","elements":[null]}`,
		"not object":       `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := dto.ParseElements(json.RawMessage(raw))
			assert.ErrorIs(t, err, dto.ErrInvalidPayload)
		})
	}
}
