package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

func testIdentifier() *Identifier {
	i := NewIdentifier(nil)
	i.timeout = 500 * time.Millisecond
	return i
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return port
}

func TestIdentifyWebsocketControlPort(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wsControlPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	i := testIdentifier()
	i.wsPort = serverPort(t, srv)

	cand, ok := i.Identify(context.Background(), "127.0.0.1", i.wsPort)
	if !ok {
		t.Fatal("websocket control endpoint not identified")
	}
	if cand.Endpoint.Method != domain.MethodWebsocket {
		t.Fatalf("method = %s, want websocket", cand.Endpoint.Method)
	}
	if cand.Model != "Unknown (WebSocket)" {
		t.Fatalf("model = %q", cand.Model)
	}
}

func TestIdentifyRejectsPlainHTTPOnWebsocketPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	i := testIdentifier()
	i.wsPort = serverPort(t, srv)

	if _, ok := i.Identify(context.Background(), "127.0.0.1", i.wsPort); ok {
		t.Fatal("plain HTTP endpoint identified as a TV")
	}
}

func TestIdentifyLegacyPortNeedsAReply(t *testing.T) {
	replying, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer replying.Close()
	go func() {
		for {
			conn, err := replying.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 64)
				if _, err := c.Read(buf); err != nil {
					return
				}
				_, _ = c.Write([]byte{0x0a})
			}(conn)
		}
	}()

	silent, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer silent.Close()
	go func() {
		for {
			conn, err := silent.Accept()
			if err != nil {
				return
			}
			// Accept and hold; never reply.
			defer conn.Close()
		}
	}()

	i := testIdentifier()

	i.legacyPort = replying.Addr().(*net.TCPAddr).Port
	cand, ok := i.Identify(context.Background(), "127.0.0.1", i.legacyPort)
	if !ok {
		t.Fatal("replying legacy endpoint not identified")
	}
	if cand.Endpoint.Method != domain.MethodLegacy || cand.Model != "Unknown (Legacy)" {
		t.Fatalf("candidate = %+v, want legacy method", cand)
	}

	i.legacyPort = silent.Addr().(*net.TCPAddr).Port
	if _, ok := i.Identify(context.Background(), "127.0.0.1", i.legacyPort); ok {
		t.Fatal("silent endpoint identified as a legacy TV")
	}
}

func TestIdentifyUnknownPortReturnsNothing(t *testing.T) {
	i := testIdentifier()
	if _, ok := i.Identify(context.Background(), "127.0.0.1", 9999); ok {
		t.Fatal("unknown port identified")
	}
}
