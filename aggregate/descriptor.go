// Package aggregate implements the fused filter+aggregate path (spec
// §4.6, C6) and the bitmap-driven aggregator (spec §4.7, C7).
package aggregate

import (
	"fmt"

	"github.com/src-d/arrowquery/errkind"
)

// Op enumerates the aggregate operations of spec §3
// AggregationDescriptor/SimpleAggregateOperation.
type Op int

const (
	Count Op = iota
	LongCount
	Sum
	Avg
	Min
	Max
)

// Descriptor is the AggregationDescriptor/SimpleAggregateOperation of
// spec §3: {op, col?, result_name, out_type}.
type Descriptor struct {
	Op         Op
	Column     string // "" for Count/LongCount with no column
	ResultName string
	OutType    string
}

// Validate enforces spec §3: Count/LongCount with no column counts
// matching rows; any other op with Column=="" is illegal.
func (d Descriptor) Validate() error {
	if d.Column == "" && d.Op != Count && d.Op != LongCount {
		return errkind.InvalidArgument.New(fmt.Sprintf("aggregate op %d requires a column", d.Op))
	}
	return nil
}

// Result is a single typed aggregate value, tagged by the op that
// produced it (spec §6.2 "a tagged value of the declared out_type").
type Result struct {
	Op      Op
	Int64   int64
	Float64 float64
	IsFloat bool
}
