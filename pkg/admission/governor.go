package admission

import (
	"context"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/infra/prometheus"
)

// LoadSampler produces a load proxy in [0, ~1+]: 1.0 means the host is
// fully busy.
type LoadSampler func() (float64, error)

// Governor periodically samples service load and maps it into a banded
// scaling factor applied to every rule budget. Sampling is decoupled from
// the request path: admission decisions read the current factor with a
// single atomic load.
type Governor struct {
	sampler  LoadSampler
	interval time.Duration
	logger   *logrus.Logger
	factor   uint64
}

func NewGovernor(sampler LoadSampler, interval time.Duration, logger *logrus.Logger) *Governor {
	if sampler == nil {
		sampler = ProcLoadSampler
	}
	g := &Governor{
		sampler:  sampler,
		interval: interval,
		logger:   logger,
	}
	g.store(1.0)
	return g
}

// Start runs the sampling loop until ctx is cancelled.
func (g *Governor) Start(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sample()
			}
		}
	}()
}

func (g *Governor) sample() {
	load, err := g.sampler()
	if err != nil {
		g.logger.WithError(err).Debug("load sample unavailable, keeping current factor")
		return
	}
	factor := FactorForLoad(load)
	if factor != g.Factor() {
		g.logger.WithFields(logrus.Fields{
			"load":   load,
			"factor": factor,
		}).Info("load band changed, adjusting budgets")
	}
	g.store(factor)
	prometheus.LoadFactor.Set(factor)
}

// Factor returns the scaling factor for the current load band.
func (g *Governor) Factor() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.factor))
}

func (g *Governor) store(f float64) {
	atomic.StoreUint64(&g.factor, math.Float64bits(f))
}

// FactorForLoad maps a load sample into its band's budget multiplier.
func FactorForLoad(load float64) float64 {
	switch {
	case load > 0.8:
		return 0.3
	case load > 0.6:
		return 0.5
	case load > 0.4:
		return 0.7
	case load < 0.2:
		return 1.5
	default:
		return 1.0
	}
}

// ProcLoadSampler reads the 1-minute load average normalized by CPU count.
// Hosts without /proc report an error and the governor keeps its last
// factor.
func ProcLoadSampler() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, os.ErrInvalid
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return load / float64(runtime.NumCPU()), nil
}
