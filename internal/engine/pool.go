package engine

import (
	"runtime"

	"github.com/pbnjay/memory"

	"github.com/cookfarm/cookfarm/pkg/types"
)

// Resources describes the host
type Resources struct {
	CPUs          int
	TotalMemoryMB uint64
}

// DetectResources reads core count and physical memory of the host
func DetectResources() Resources {
	return Resources{
		CPUs:          runtime.NumCPU(),
		TotalMemoryMB: memory.TotalMemory() >> 20,
	}
}

// PoolInput is everything pool sizing depends on
type PoolInput struct {
	Jobs      int
	Resources Resources
	Pool      types.PoolConfig
}

// PoolPlan is the outcome of pool sizing. Workers is zero when the run
// should be cooked serially; Reason then says why.
type PoolPlan struct {
	Workers int
	Reason  string
}

// Parallel reports whether the plan uses worker processes
func (p PoolPlan) Parallel() bool {
	return p.Workers >= 2
}

// PlanWorkers sizes the worker pool. Parallelism needs at least two jobs,
// two usable cores and memory headroom for two workers.
func PlanWorkers(in PoolInput) PoolPlan {
	if in.Pool.Disabled {
		return PoolPlan{Reason: "parallel cooking disabled"}
	}
	if in.Jobs < 2 {
		return PoolPlan{Reason: "fewer than two jobs"}
	}

	n := in.Resources.CPUs - in.Pool.ReservedCores
	if n < 2 {
		return PoolPlan{Reason: "fewer than two usable cores"}
	}

	if perWorker := uint64(in.Pool.MemoryPerWorkerMB); perWorker > 0 && in.Resources.TotalMemoryMB > 0 {
		var headroom uint64
		if reserved := uint64(in.Pool.ReservedMemoryMB); in.Resources.TotalMemoryMB > reserved {
			headroom = in.Resources.TotalMemoryMB - reserved
		}
		byMemory := int(headroom / perWorker)
		if byMemory < 2 {
			return PoolPlan{Reason: "not enough memory for two workers"}
		}
		n = min(n, byMemory)
	}

	n = min(n, in.Jobs)
	if in.Pool.MaxWorkers > 0 {
		n = min(n, in.Pool.MaxWorkers)
	}
	if n < 2 {
		return PoolPlan{Reason: "worker limit below two"}
	}
	return PoolPlan{Workers: n}
}
