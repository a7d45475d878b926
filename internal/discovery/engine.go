// Package discovery locates Samsung TVs on the local network. Two
// independent strategies feed one engine: an SSDP multicast probe for the
// local link and a bounded TCP port scan per configured subnet.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

// ErrDiscoveryBusy is returned when Discover is called while a previous
// run on the same engine is still active. Runs are never queued.
var ErrDiscoveryBusy = errors.New("a discovery run is already active")

// ProgressFunc receives incremental status for UI consumption. The
// engine serializes invocations; callers need no locking.
type ProgressFunc func(stage string, fraction float64)

type multicastProber interface {
	Run(ctx context.Context) []domain.Candidate
}

type subnetProber interface {
	Run(ctx context.Context, subnet string, progress func(done, total int)) ([]domain.Candidate, error)
}

// Engine orchestrates both probes across the configured subnets,
// deduplicates by host, and reports progress.
type Engine struct {
	logger    *slog.Logger
	multicast multicastProber
	portscan  subnetProber

	busy       atomic.Bool
	progressMu sync.Mutex
}

func NewEngine(logger *slog.Logger, multicast multicastProber, portscan subnetProber) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		logger:    logger,
		multicast: multicast,
		portscan:  portscan,
	}
}

// Discover runs the multicast probe once and the port scan once per
// subnet, concurrently. Candidates are merged by host with multicast
// metadata winning over port-scan metadata. Probe-level failures (an
// unreachable host, a malformed datagram, one bad subnet) never abort
// the run.
func (e *Engine) Discover(ctx context.Context, subnets []string, progress ProgressFunc) ([]domain.Candidate, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrDiscoveryBusy
	}
	defer e.busy.Store(false)

	runID := uuid.NewString()
	e.logger.Info("discovery_started",
		slog.String("run_id", runID),
		slog.Int("subnets", len(subnets)),
	)

	var (
		mu       sync.Mutex
		fromSSDP []domain.Candidate
		fromScan []domain.Candidate
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.report(progress, "multicast search", 0)
		cands := e.multicast.Run(gctx)
		mu.Lock()
		fromSSDP = append(fromSSDP, cands...)
		mu.Unlock()
		return nil
	})

	total := len(subnets)
	for i, subnet := range subnets {
		i, subnet := i, subnet
		g.Go(func() error {
			e.report(progress, fmt.Sprintf("scanning subnet %s", subnet), float64(i)/float64(total))
			cands, err := e.portscan.Run(gctx, subnet, func(done, hostTotal int) {
				frac := (float64(i) + float64(done)/float64(hostTotal)) / float64(total)
				e.report(progress, fmt.Sprintf("scanning subnet %s", subnet), frac)
			})
			if err != nil {
				// One bad subnet is local to that subnet.
				e.logger.Warn("subnet_scan_failed",
					slog.String("run_id", runID),
					slog.String("subnet", subnet),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			fromScan = append(fromScan, cands...)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := mergeCandidates(fromSSDP, fromScan)
	e.report(progress, "discovery complete", 1)
	e.logger.Info("discovery_finished",
		slog.String("run_id", runID),
		slog.Int("found", len(merged)),
	)
	return merged, nil
}

// mergeCandidates keys the result set by host. Multicast candidates are
// inserted first; a port-scan candidate only fills a host that multicast
// did not claim, so multicast-sourced metadata is always preserved.
func mergeCandidates(multicast, portscan []domain.Candidate) []domain.Candidate {
	byHost := map[string]domain.Candidate{}
	for _, c := range multicast {
		if _, ok := byHost[c.Endpoint.Host]; !ok {
			byHost[c.Endpoint.Host] = c
		}
	}
	for _, c := range portscan {
		if _, ok := byHost[c.Endpoint.Host]; !ok {
			byHost[c.Endpoint.Host] = c
		}
	}

	out := make([]domain.Candidate, 0, len(byHost))
	for _, c := range byHost {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.Host < out[j].Endpoint.Host })
	return out
}

func (e *Engine) report(progress ProgressFunc, stage string, fraction float64) {
	if progress == nil {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	progress(stage, fraction)
}
