package diagnostics

import (
	"os/exec"

	"golang.org/x/net/icmp"
)

var (
	lookPath   = exec.LookPath
	listenICMP = icmp.ListenPacket
)

type BinaryStatus struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// EnvironmentReport describes what the conflict checker can rely on:
// the arp and ping tools for fallbacks, and whether this process may
// open an ICMP socket at all.
type EnvironmentReport struct {
	ARP          BinaryStatus `json:"arp"`
	Ping         BinaryStatus `json:"ping"`
	ICMPCapable  bool         `json:"icmp_capable"`
	FullConflict bool         `json:"full_conflict_checks"`
}

func DetectEnvironment() EnvironmentReport {
	arp := detectBinary("arp")
	ping := detectBinary("ping")
	icmpOK := detectICMP()

	return EnvironmentReport{
		ARP:          arp,
		Ping:         ping,
		ICMPCapable:  icmpOK,
		FullConflict: arp.Found && icmpOK,
	}
}

func detectBinary(name string) BinaryStatus {
	path, err := lookPath(name)
	if err != nil {
		return BinaryStatus{Found: false}
	}

	return BinaryStatus{
		Found: true,
		Path:  path,
	}
}

func detectICMP() bool {
	conn, err := listenICMP("udp4", "0.0.0.0")
	if err != nil {
		conn, err = listenICMP("ip4:icmp", "0.0.0.0")
		if err != nil {
			return false
		}
	}
	_ = conn.Close()
	return true
}
