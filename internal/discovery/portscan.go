package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

const (
	// Scans are bounded to the first usable addresses of each subnet to
	// keep a run cheap on large networks.
	scanHostCap = 50

	scanDialTimeout = 500 * time.Millisecond
	scanHostDelay   = 10 * time.Millisecond
	scanWorkers     = 8
)

// hostIdentifier confirms that an open (host, port) is actually a TV.
type hostIdentifier interface {
	Identify(ctx context.Context, host string, port int) (domain.Candidate, bool)
}

// PortScanProbe sweeps a subnet's leading host addresses for the known TV
// control ports. Per-host and per-port failures are swallowed; the scan
// of the remaining hosts always continues.
type PortScanProbe struct {
	logger      *slog.Logger
	identifier  hostIdentifier
	ports       []int
	dialTimeout time.Duration
	hostDelay   time.Duration
	hostCap     int
	workers     int
}

func NewPortScanProbe(logger *slog.Logger, identifier hostIdentifier) *PortScanProbe {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PortScanProbe{
		logger:      logger,
		identifier:  identifier,
		ports:       []int{domain.PortWebsocket, domain.PortLegacy},
		dialTimeout: scanDialTimeout,
		hostDelay:   scanHostDelay,
		hostCap:     scanHostCap,
		workers:     scanWorkers,
	}
}

// Run scans one subnet. The progress callback receives the number of
// hosts finished out of the total; it may be nil.
func (p *PortScanProbe) Run(ctx context.Context, subnet string, progress func(done, total int)) ([]domain.Candidate, error) {
	hosts, err := p.subnetHosts(subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", subnet, err)
	}
	if len(hosts) == 0 {
		return nil, nil
	}

	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("scan worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		found []domain.Candidate
		done  int
	)

	// Pace submissions so the sweep never floods the local network.
	pacer := rate.NewLimiter(rate.Every(p.hostDelay), 1)

	total := len(hosts)
	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}

		host := host
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			cand, ok := p.probeHost(ctx, host)

			mu.Lock()
			if ok {
				found = append(found, cand)
			}
			done++
			finished := done
			mu.Unlock()

			if progress != nil {
				progress(finished, total)
			}
		})
		if submitErr != nil {
			wg.Done()
			p.logger.Debug("scan_submit_failed", slog.String("host", host), slog.String("error", submitErr.Error()))
			continue
		}

		if err := pacer.Wait(ctx); err != nil {
			break
		}
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Endpoint.Host < found[j].Endpoint.Host })
	return found, nil
}

// probeHost tries the TV ports in fixed order and stops at the first one
// that accepts a connection; identification then decides whether the host
// is emitted.
func (p *PortScanProbe) probeHost(ctx context.Context, host string) (domain.Candidate, bool) {
	for _, port := range p.ports {
		if ctx.Err() != nil {
			return domain.Candidate{}, false
		}
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), p.dialTimeout)
		if err != nil {
			continue
		}
		_ = conn.Close()

		cand, ok := p.identifier.Identify(ctx, host, port)
		if ok {
			p.logger.Info("scan_tv_found", slog.String("host", host), slog.Int("port", port))
		}
		return cand, ok
	}
	return domain.Candidate{}, false
}

// subnetHosts enumerates usable IPv4 addresses of the CIDR, capped. The
// network and broadcast addresses are excluded for prefixes shorter than
// /31, matching conventional host enumeration.
func (p *PortScanProbe) subnetHosts(subnet string) ([]string, error) {
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return nil, err
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("only IPv4 subnets are scanned")
	}

	prefix = prefix.Masked()
	var hosts []string

	addr := prefix.Addr()
	if prefix.Bits() < 31 {
		addr = addr.Next() // skip the network address
	}
	for prefix.Contains(addr) && len(hosts) < p.hostCap {
		if prefix.Bits() < 31 && isBroadcast(addr, prefix) {
			break
		}
		hosts = append(hosts, addr.String())
		addr = addr.Next()
	}
	return hosts, nil
}

func isBroadcast(addr netip.Addr, prefix netip.Prefix) bool {
	raw := addr.As4()
	bits := prefix.Bits()
	hostBits := 32 - bits
	v := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	mask := uint32(1)<<hostBits - 1
	return v&mask == mask
}
