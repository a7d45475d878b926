package remote

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const controlPath = "/api/v2/channels/samsung.remote.control"

// Handshake events the TV emits on the control channel.
const (
	eventConnect      = "ms.channel.connect"
	eventUnauthorized = "ms.channel.unauthorized"
)

type handshakeEvent struct {
	Event string `json:"event"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

type controlCommand struct {
	Method string        `json:"method"`
	Params controlParams `json:"params"`
}

type controlParams struct {
	Cmd          string `json:"Cmd"`
	DataOfCmd    string `json:"DataOfCmd"`
	Option       string `json:"Option"`
	TypeOfRemote string `json:"TypeOfRemote"`
}

func clickCommand(key string) controlCommand {
	return controlCommand{
		Method: "ms.remote.control",
		Params: controlParams{
			Cmd:          "Click",
			DataOfCmd:    key,
			Option:       "false",
			TypeOfRemote: "SendRemoteKey",
		},
	}
}

// controlURL builds the handshake URL. The client name travels
// base64-encoded; a known pairing token is appended so the TV can skip
// the on-screen authorization prompt.
func controlURL(host string, port int, clientName, token string, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := fmt.Sprintf("%s://%s%s?name=%s",
		scheme,
		net.JoinHostPort(host, strconv.Itoa(port)),
		controlPath,
		base64.StdEncoding.EncodeToString([]byte(clientName)),
	)
	if token != "" {
		u += "&token=" + url.QueryEscape(token)
	}
	return u
}

// channel is one physical websocket transport to one TV. It is owned
// exclusively by its session manager and never shared between tasks.
type channel struct {
	conn    *websocket.Conn
	secure  bool
	timeout time.Duration
}

// dialChannel opens the websocket. The secure variant relaxes certificate
// validation: Samsung TVs serve self-signed certificates on 8002.
func dialChannel(ctx context.Context, rawURL string, secure bool, timeout time.Duration) (*channel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}
	if secure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Op: OpDial, Err: err}
	}

	return &channel{conn: conn, secure: secure, timeout: timeout}, nil
}

// readEvent blocks for a single handshake event from the TV.
func (c *channel) readEvent() (handshakeEvent, error) {
	var ev handshakeEvent
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return ev, &TransportError{Op: OpRead, Err: err}
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, &TransportError{Op: OpRead, Err: err}
	}
	return ev, nil
}

// writeJSON sends one control payload as a text frame.
func (c *channel) writeJSON(v any) error {
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode control payload: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: OpWrite, Err: err}
	}
	return nil
}

func (c *channel) close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
