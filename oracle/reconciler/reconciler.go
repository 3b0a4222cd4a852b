// Package reconciler implements the reconciliation cycle: compare the truth
// source against the on-chain registry for every tracked name, and submit a
// minimal correcting diff.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/jefdiesel/appchain-ens/log"
	"github.com/jefdiesel/appchain-ens/metrics"
	"github.com/jefdiesel/appchain-ens/oracle"
)

const moduleName = "reconciler"

// Source is the authoritative view of name ownership. A nil owner means the
// record is absent (or unreadable this cycle), never "confirmed unowned".
type Source interface {
	FetchOwner(ctx context.Context, name string) *ethCommon.Address
}

// Registry is the on-chain cache of name ownership. Both operations contain
// their own failures: ResolveOwner falls back to the unset sentinel and
// SubmitDiffs accounts for failed entries in its return values.
type Registry interface {
	ResolveOwner(ctx context.Context, name string) ethCommon.Address
	SubmitDiffs(ctx context.Context, entries []oracle.DiffEntry) (submitted, failed int)
}

// Reconciler drives reconciliation cycles on a fixed cadence. Cycles are
// strictly sequential; a new cycle starts only once the previous one has
// fully completed.
type Reconciler struct {
	trackedNames []string

	source   Source
	registry Registry

	interval   time.Duration
	groupSize  int
	groupDelay time.Duration

	logger  *log.Logger
	metrics *metrics.OracleMetrics
}

var _ oracle.Oracle = (*Reconciler)(nil)

// New creates a reconciler over a fixed tracked-name set. groupSize bounds
// the number of names resolved concurrently; it should match the RPC
// provider's batch ceiling since the provider penalizes bursts.
func New(
	trackedNames []string,
	source Source,
	registry Registry,
	interval time.Duration,
	groupSize int,
	groupDelay time.Duration,
	logger *log.Logger,
	oracleMetrics *metrics.OracleMetrics,
) (*Reconciler, error) {
	if len(trackedNames) == 0 {
		return nil, fmt.Errorf("no tracked names")
	}
	if groupSize <= 0 {
		return nil, fmt.Errorf("group size must be positive")
	}
	return &Reconciler{
		trackedNames: trackedNames,
		source:       source,
		registry:     registry,
		interval:     interval,
		groupSize:    groupSize,
		groupDelay:   groupDelay,
		logger:       logger.WithModule(moduleName),
		metrics:      oracleMetrics,
	}, nil
}

// ownerPair holds one cycle's two observations for a name. Pairs live only
// until the cycle's diff is computed.
type ownerPair struct {
	truth  *ethCommon.Address
	cached ethCommon.Address
}

// RunCycle runs one full reconciliation cycle: fetch all, diff, submit all.
func (r *Reconciler) RunCycle(ctx context.Context) {
	timer := time.Now()

	pairs := make([]ownerPair, len(r.trackedNames))
	for group := 0; group < len(r.trackedNames); group += r.groupSize {
		end := group + r.groupSize
		if end > len(r.trackedNames) {
			end = len(r.trackedNames)
		}

		var wg sync.WaitGroup
		for i := group; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				name := r.trackedNames[idx]
				pairs[idx] = ownerPair{
					truth:  r.source.FetchOwner(ctx, name),
					cached: r.registry.ResolveOwner(ctx, name),
				}
			}(i)
		}
		wg.Wait()

		// Breathe between groups to smooth the request rate.
		if end < len(r.trackedNames) && r.groupDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.groupDelay):
			}
		}
	}

	// Compute the diff in discovery order. An absent truth value never
	// produces an entry: the desired state is unknown, not empty.
	var diffs []oracle.DiffEntry
	for i, name := range r.trackedNames {
		pair := pairs[i]
		if pair.truth == nil {
			continue
		}
		if *pair.truth != pair.cached {
			diffs = append(diffs, oracle.DiffEntry{Name: name, Owner: *pair.truth})
		}
	}

	if r.metrics != nil {
		r.metrics.DiffCounts.Add(float64(len(diffs)))
	}

	if len(diffs) == 0 {
		r.logger.Info("cycle complete, registry in sync",
			"num_names", len(r.trackedNames),
			"duration", time.Since(timer),
		)
	} else {
		submitted, failed := r.registry.SubmitDiffs(ctx, diffs)
		r.logger.Info("cycle complete",
			"num_names", len(r.trackedNames),
			"num_diffs", len(diffs),
			"submitted", submitted,
			"failed", failed,
			"duration", time.Since(timer),
		)
	}

	if r.metrics != nil {
		r.metrics.CycleCounts.Inc()
		r.metrics.CycleLatencies.Observe(time.Since(timer).Seconds())
	}
}

// Start runs cycles until the context is canceled, beginning immediately.
func (r *Reconciler) Start(ctx context.Context) {
	for firstIter := true; ; firstIter = false {
		delay := r.interval
		if firstIter {
			delay = 0 // Don't sleep before the first cycle.
		}
		select {
		case <-time.After(delay):
			// Run another cycle.
		case <-ctx.Done():
			r.logger.Warn("shutting down reconciler", "reason", ctx.Err())
			return
		}
		r.RunCycle(ctx)
	}
}

// Name returns the name of the oracle.
func (r *Reconciler) Name() string {
	return moduleName
}
