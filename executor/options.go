package executor

import (
	"io"
	"runtime"

	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"

	"github.com/src-d/arrowquery/errkind"
)

// Options is the enumerated knob set of spec §6.3, matching the
// teacher's flat, documented `Config` struct in `engine.go`.
type Options struct {
	ParallelThreshold       int  `yaml:"parallel_threshold"`
	ChunkSize               int  `yaml:"chunk_size"`
	MaxDegreeOfParallelism  int  `yaml:"max_degree_of_parallelism"`
	EnableParallelExecution bool `yaml:"enable_parallel_execution"`
	PlanCacheEnabled        bool `yaml:"plan_cache_enabled"`
	PlanCacheMaxSize        int  `yaml:"plan_cache_max_size"`
	StrictMode              bool `yaml:"strict_mode"`

	// Allocator is the Arrow memory allocator used for any array this
	// engine builds (materialization, SQL-ingress literal arrays).
	// Not YAML-configurable; set programmatically.
	Allocator memory.Allocator `yaml:"-"`

	// MetricsRegistry, if set, is where the plan cache registers its hit/
	// miss/eviction counters (plan.NewCache). Left nil, the cache still
	// tracks those counts internally (Cache.Stats) but nothing is
	// exported to Prometheus. Not YAML-configurable; set programmatically.
	MetricsRegistry prometheus.Registerer `yaml:"-"`
}

// DefaultOptions returns spec §6.3's documented defaults.
func DefaultOptions() Options {
	return Options{
		ParallelThreshold:       10000,
		ChunkSize:               16384,
		MaxDegreeOfParallelism:  runtime.NumCPU(),
		EnableParallelExecution: true,
		PlanCacheEnabled:        true,
		PlanCacheMaxSize:        256,
		StrictMode:              true,
		Allocator:               memory.NewGoAllocator(),
	}
}

// Validate enforces the chunk_size % 64 == 0 invariant of spec §5.
func (o Options) Validate() error {
	if o.ChunkSize%64 != 0 {
		return errkind.InvalidArgument.New("chunk_size must be a multiple of 64")
	}
	return nil
}

// effectiveMaxDegree folds EnableParallelExecution into the pool sizing
// knob: disabling parallel execution is equivalent to max_degree=1.
func (o Options) effectiveMaxDegree() int {
	if !o.EnableParallelExecution {
		return 1
	}
	return o.MaxDegreeOfParallelism
}

// LoadOptions reads a YAML document into Options, starting from
// DefaultOptions so a partial document only overrides the fields it
// names.
func LoadOptions(r io.Reader) (Options, error) {
	opts := DefaultOptions()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&opts); err != nil && err != io.EOF {
		return Options{}, errkind.InvalidArgument.New(err.Error())
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.NewGoAllocator()
	}
	return opts, nil
}
