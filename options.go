package arrowquery

import (
	"io"

	"github.com/src-d/arrowquery/executor"
)

// Options is the root-level alias of executor.Options (spec.md §6.3):
// the engine's only config struct, since the executor is the only
// package that actually consumes these knobs.
type Options = executor.Options

// DefaultOptions returns spec.md §6.3's documented defaults.
func DefaultOptions() Options { return executor.DefaultOptions() }

// LoadOptions reads a YAML document into Options, starting from
// DefaultOptions so a partial document only overrides the fields it names.
func LoadOptions(r io.Reader) (Options, error) { return executor.LoadOptions(r) }
