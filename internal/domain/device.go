package domain

import (
	"fmt"
	"strings"
)

// Method is the control transport a TV speaks.
type Method string

const (
	MethodWebsocket Method = "websocket"
	MethodLegacy    Method = "legacy"
)

// Well-known Samsung TV control ports.
const (
	PortWebsocket = 8001
	PortSecure    = 8002
	PortLegacy    = 55000
)

// ParseMethod normalizes a persisted method string.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "websocket", "ws", "":
		return MethodWebsocket, nil
	case "legacy":
		return MethodLegacy, nil
	default:
		return "", fmt.Errorf("unknown control method %q", raw)
	}
}

// DefaultPort returns the standard control port for the method.
func (m Method) DefaultPort() int {
	if m == MethodLegacy {
		return PortLegacy
	}
	return PortWebsocket
}

// Endpoint identifies one controllable TV. Identity is the host.
type Endpoint struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Method      Method `json:"method"`
	DisplayName string `json:"name"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d (%s)", e.Host, e.Port, e.Method)
}

// DiscoverySource records which probe produced a candidate.
type DiscoverySource string

const (
	SourceMulticast DiscoverySource = "multicast"
	SourcePortScan  DiscoverySource = "portscan"
)

// Candidate is one discovered TV. Candidates are ephemeral: they live for
// a single discovery run and are keyed by endpoint host during merge.
type Candidate struct {
	Endpoint Endpoint        `json:"endpoint"`
	Source   DiscoverySource `json:"source"`
	Model    string          `json:"model"`
}
