package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"

	// One root-device search; the TV answers with HTTP-style headers.
	ssdpSearchRequest = "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: upnp:rootdevice\r\n" +
		"USER-AGENT: SamsungRemote/1.0\r\n" +
		"\r\n"

	ssdpListenWindow  = 4 * time.Second
	ssdpSocketTimeout = 5 * time.Second
)

// MulticastProbe discovers TVs advertising on the local link via a single
// SSDP M-SEARCH. It is subnet-independent: multicast does not cross the
// local link.
type MulticastProbe struct {
	logger       *slog.Logger
	target       string
	listenWindow time.Duration
	readTimeout  time.Duration
}

func NewMulticastProbe(logger *slog.Logger) *MulticastProbe {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MulticastProbe{
		logger:       logger,
		target:       ssdpMulticastAddr,
		listenWindow: ssdpListenWindow,
		readTimeout:  ssdpSocketTimeout,
	}
}

// Run sends the search datagram and collects responses for the bounded
// listen window. Malformed or non-matching datagrams are discarded
// individually; they never abort the probe.
func (p *MulticastProbe) Run(ctx context.Context) []domain.Candidate {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		p.logger.Warn("ssdp_socket_failed", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	target, err := net.ResolveUDPAddr("udp4", p.target)
	if err != nil {
		p.logger.Warn("ssdp_resolve_failed", slog.String("error", err.Error()))
		return nil
	}

	// Bounds the search send; the collection loop below re-arms its own
	// shorter read deadline per datagram.
	_ = conn.SetDeadline(time.Now().Add(p.readTimeout))
	if _, err := conn.WriteTo([]byte(ssdpSearchRequest), target); err != nil {
		p.logger.Warn("ssdp_search_failed", slog.String("error", err.Error()))
		return nil
	}
	p.logger.Debug("ssdp_search_sent", slog.String("target", p.target))

	var found []domain.Candidate
	seen := map[string]bool{}
	buf := make([]byte, 4096)
	deadline := time.Now().Add(p.listenWindow)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			break
		}

		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}
		cand, ok := classifySSDPResponse(string(buf[:n]), host)
		if !ok || seen[host] {
			continue
		}
		seen[host] = true
		found = append(found, cand)
		p.logger.Info("ssdp_tv_found",
			slog.String("host", host),
			slog.Int("port", cand.Endpoint.Port),
			slog.String("method", string(cand.Endpoint.Method)),
		)
	}

	return found
}

// parseSSDPHeaders reads a datagram as HTTP-style headers keyed
// case-insensitively (stored upper).
func parseSSDPHeaders(response string) map[string]string {
	headers := map[string]string{}
	for _, line := range strings.Split(response, "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		headers[key] = strings.TrimSpace(line[idx+1:])
	}
	return headers
}

// classifySSDPResponse applies the vendor heuristic: a Samsung substring
// in the SERVER header, or failing that in LOCATION. Transport defaults
// to websocket unless the location references the legacy port.
func classifySSDPResponse(response, host string) (domain.Candidate, bool) {
	headers := parseSSDPHeaders(response)
	server := strings.ToUpper(headers["SERVER"])
	location := headers["LOCATION"]

	samsung := strings.Contains(server, "SAMSUNG") || strings.Contains(server, "SEC_HHP")
	if !samsung && location != "" {
		upper := strings.ToUpper(location)
		samsung = strings.Contains(upper, "SAMSUNG") || strings.Contains(upper, "SEC_HHP")
	}
	if !samsung {
		return domain.Candidate{}, false
	}

	method := domain.MethodWebsocket
	port := domain.PortWebsocket
	if strings.Contains(location, "55000") {
		method = domain.MethodLegacy
		port = domain.PortLegacy
	}

	return domain.Candidate{
		Endpoint: domain.Endpoint{
			Host:        host,
			Port:        port,
			Method:      method,
			DisplayName: fmt.Sprintf("Samsung TV (%s)", host),
		},
		Source: domain.SourceMulticast,
		Model:  "Samsung TV (UPnP)",
	}, true
}
