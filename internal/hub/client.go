package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// 等待对端 Pong 的时间
	pongWait = 60 * time.Second
	// Ping 周期，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10
	// 单条消息最大字节数
	maxMessageSize = 64 * 1024
)

// Client 把一个 WebSocket 连接接到 Hub 上，负责读写泵。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	log     *logrus.Entry
}

// NewClient 为连接创建会话和 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	session := NewSession()
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		log:     logrus.WithField("session_id", session.ID()),
	}
}

// Session 返回该连接的会话
func (c *Client) Session() *Session { return c.session }

// Run 向 Hub 登记会话并启动读写 goroutine
func (c *Client) Run() {
	if !c.hub.Register(c.session) {
		c.log.Warn("Hub queue full, rejecting connection")
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
			time.Now().Add(writeWait))
		c.conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub。
// 它在自己的 goroutine 中运行，退出时注销会话。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c.session)
		c.conn.Close()
		c.log.Info("readPump exited, unregistered session")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.log.Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.log.Debugf("Received raw message (size: %d)", len(message))
		// 非阻塞，Hub 处理不过来时丢弃
		c.hub.Submit(c.session, message)
	}
}

// WritePump 将会话发送通道里的消息写到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("writePump exited")
	}()

	outbound := c.session.Outbound()
	for {
		select {
		case message, ok := <-outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 已注销会话
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}
