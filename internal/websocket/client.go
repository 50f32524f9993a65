package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Stations only send the identify handshake
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Stations connect from the taproom LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Station ID, temporary until the station identifies. Owned by the hub goroutine.
	StationID string
}

// identifyMessage is the station handshake
type identifyMessage struct {
	Type      string `json:"type"`
	StationID string `json:"stationId,omitempty"`
	MsgID     string `json:"msgId,omitempty"`
}

// readPump reads handshakes and keeps the read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var msg identifyMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != "STATION_IDENTIFY" || msg.StationID == "" {
			continue
		}

		if !c.hub.rename(c, msg.StationID) {
			return
		}
		c.hub.SendToStation(msg.StationID, map[string]string{
			"type":   "ACK",
			"msgId":  msg.MsgID,
			"status": "connected",
		})
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and registers the station with the hub.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	// Anonymous listeners get a temporary id until they identify
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), StationID: "anon_" + uuid.New().String()}
	if !hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
