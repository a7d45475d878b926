package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

const wsControlPath = "/api/v2/channels/samsung.remote.control"

// legacyProbe is the minimal byte sequence sent to the legacy port; any
// reply at all identifies the legacy control service.
var legacyProbe = make([]byte, 10)

// Identifier classifies a reachable (host, port) as a Samsung TV and
// infers its control method.
type Identifier struct {
	logger     *slog.Logger
	timeout    time.Duration
	wsPort     int
	legacyPort int
}

func NewIdentifier(logger *slog.Logger) *Identifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Identifier{
		logger:     logger,
		timeout:    2 * time.Second,
		wsPort:     domain.PortWebsocket,
		legacyPort: domain.PortLegacy,
	}
}

// Identify probes the port with the matching short-lived handshake. Ports
// other than the two known control ports are never identified.
func (i *Identifier) Identify(ctx context.Context, host string, port int) (domain.Candidate, bool) {
	switch port {
	case i.wsPort:
		return i.identifyWebsocket(ctx, host, port)
	case i.legacyPort:
		return i.identifyLegacy(host, port)
	default:
		return domain.Candidate{}, false
	}
}

// identifyWebsocket opens the control channel and immediately closes it;
// a completed websocket handshake is taken as a Samsung TV.
func (i *Identifier) identifyWebsocket(ctx context.Context, host string, port int) (domain.Candidate, bool) {
	u := fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, strconv.Itoa(port)), wsControlPath)
	dialer := websocket.Dialer{HandshakeTimeout: i.timeout}

	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		i.logger.Debug("identify_ws_failed", slog.String("host", host), slog.String("error", err.Error()))
		return domain.Candidate{}, false
	}
	_ = conn.Close()

	return domain.Candidate{
		Endpoint: domain.Endpoint{
			Host:        host,
			Port:        port,
			Method:      domain.MethodWebsocket,
			DisplayName: fmt.Sprintf("Samsung TV (%s)", host),
		},
		Source: domain.SourcePortScan,
		Model:  "Unknown (WebSocket)",
	}, true
}

// identifyLegacy sends the probe bytes and waits briefly for any reply.
func (i *Identifier) identifyLegacy(host string, port int) (domain.Candidate, bool) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, i.timeout)
	if err != nil {
		return domain.Candidate{}, false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(i.timeout))
	if _, err := conn.Write(legacyProbe); err != nil {
		return domain.Candidate{}, false
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		Endpoint: domain.Endpoint{
			Host:        host,
			Port:        port,
			Method:      domain.MethodLegacy,
			DisplayName: fmt.Sprintf("Samsung TV (%s)", host),
		},
		Source: domain.SourcePortScan,
		Model:  "Unknown (Legacy)",
	}, true
}
