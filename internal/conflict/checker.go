// Package conflict verifies that a candidate IP is not already claimed by
// another host before the operator commits to it. The check is advisory:
// the caller decides whether to proceed.
package conflict

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	arpTablePath = "/proc/net/arp"

	defaultPingTimeout = time.Second
	icmpProtocolICMP   = 1
)

// Checker inspects the local address-resolution table and issues a single
// ICMP echo. Either signal responding reports a suspected conflict.
type Checker struct {
	logger      *slog.Logger
	pingTimeout time.Duration

	// Swappable for tests.
	arpEntries func(ctx context.Context) map[string]string
	ping       func(ctx context.Context, ip string, timeout time.Duration) bool
}

func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Checker{
		logger:      logger,
		pingTimeout: defaultPingTimeout,
		arpEntries:  readARPTable,
		ping:        icmpEcho,
	}
}

// Check reports true when the IP already resolves in the ARP table or
// answers a ping. A check that cannot run at all reports no conflict so
// it never blocks a connection.
func (c *Checker) Check(ctx context.Context, ip string) bool {
	if mac, ok := c.arpEntries(ctx)[ip]; ok {
		c.logger.Warn("ip_conflict_arp", slog.String("ip", ip), slog.String("mac", mac))
		return true
	}

	if c.ping(ctx, ip, c.pingTimeout) {
		c.logger.Warn("ip_conflict_ping", slog.String("ip", ip))
		return true
	}

	c.logger.Debug("no_ip_conflict", slog.String("ip", ip))
	return false
}

// readARPTable maps IP to MAC for every complete neighbor entry. On Linux
// the kernel table is read directly; elsewhere the arp tool is consulted.
func readARPTable(ctx context.Context) map[string]string {
	entries := map[string]string{}

	if runtime.GOOS == "linux" {
		raw, err := os.ReadFile(arpTablePath)
		if err == nil {
			return parseLinuxARPTable(string(raw))
		}
	}

	out, err := exec.CommandContext(ctx, "arp", "-n").Output()
	if err != nil {
		return entries
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if ip := net.ParseIP(fields[0]); ip != nil && strings.Contains(line, ":") {
			entries[fields[0]] = fields[2]
		}
	}
	return entries
}

// parseLinuxARPTable reads /proc/net/arp content. Incomplete neighbor
// entries (all-zero hardware address) do not count as claims.
func parseLinuxARPTable(raw string) map[string]string {
	entries := map[string]string{}
	for i, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if i == 0 || len(fields) < 4 {
			continue
		}
		ip, mac := fields[0], fields[3]
		if net.ParseIP(ip) == nil || mac == "00:00:00:00:00:00" {
			continue
		}
		entries[ip] = mac
	}
	return entries
}

// icmpEcho sends one echo request and waits for one reply. A datagram
// ICMP socket is preferred so no elevated privileges are needed; the raw
// socket is the fallback.
func icmpEcho(ctx context.Context, ip string, timeout time.Duration) bool {
	target := net.ParseIP(ip)
	if target == nil {
		return false
	}

	var dst net.Addr = &net.UDPAddr{IP: target}
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		if err != nil {
			return false
		}
		dst = &net.IPAddr{IP: target}
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("samsungctl-conflict-check"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.WriteTo(payload, dst); err != nil {
		return false
	}

	// The socket sees all ICMP traffic; skip unrelated messages (a
	// destination-unreachable, another host's reply) and keep listening
	// for the echo reply until the deadline expires.
	reply := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(reply)
		if err != nil {
			return false
		}
		if isEchoReply(reply[:n]) {
			return true
		}
	}
}

func isEchoReply(packet []byte) bool {
	parsed, err := icmp.ParseMessage(icmpProtocolICMP, packet)
	return err == nil && parsed.Type == ipv4.ICMPTypeEchoReply
}
