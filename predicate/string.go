package predicate

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v12/arrow/array"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/zonemap"
)

// StringComparison selects ordinal vs case-insensitive string comparison,
// per spec §4.3.
type StringComparison int

const (
	Ordinal StringComparison = iota
	CaseInsensitive
)

// StrCmp is the string comparison predicate of spec §3/§4.3. Evaluation
// is always scalar (spec §9 notes SIMD byte-search is a valid, but not
// mandatory, reimplementation choice).
type StrCmp struct {
	Column     string
	Op         CompareOp
	Value      string
	Comparison StringComparison
}

func NewStrCmp(column string, op CompareOp, value string, cmp StringComparison) *StrCmp {
	return &StrCmp{Column: column, Op: op, Value: value, Comparison: cmp}
}

func (s *StrCmp) ColumnName() string { return s.Column }

func (s *StrCmp) matches(v string) (bool, error) {
	value := s.Value
	if s.Comparison == CaseInsensitive {
		v = strings.ToLower(v)
		value = strings.ToLower(value)
	}
	switch s.Op {
	case OpEq:
		return v == value, nil
	case OpNe:
		return v != value, nil
	case OpLt:
		return v < value, nil
	case OpLe:
		return v <= value, nil
	case OpGt:
		return v > value, nil
	case OpGe:
		return v >= value, nil
	case OpContains:
		return strings.Contains(v, value), nil
	case OpStartsWith:
		return strings.HasPrefix(v, value), nil
	case OpEndsWith:
		return strings.HasSuffix(v, value), nil
	default:
		return false, errkind.InvalidArgument.New(fmt.Sprintf("unsupported string operator %d", s.Op))
	}
}

func (s *StrCmp) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	arr, err := columnArray(b, s.Column)
	if err != nil {
		return err
	}
	strArr, ok := arr.(*array.String)
	if !ok {
		return errkind.InvalidArgument.New(fmt.Sprintf("column %q is not a string column", s.Column))
	}
	for row := lo; row < hi; row++ {
		if strArr.IsNull(row) {
			sel.Clear(row)
			continue
		}
		ok, err := s.matches(strArr.Value(row))
		if err != nil {
			return err
		}
		if !ok {
			sel.Clear(row)
		}
	}
	return nil
}

func (s *StrCmp) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	arr, err := columnArray(b, s.Column)
	if err != nil {
		return false, err
	}
	strArr, ok := arr.(*array.String)
	if !ok {
		return false, errkind.InvalidArgument.New(fmt.Sprintf("column %q is not a string column", s.Column))
	}
	if strArr.IsNull(row) {
		return false, nil
	}
	return s.matches(strArr.Value(row))
}

// MayContainMatches is always true: string/bool columns never get zone
// maps (spec §3 ZoneMap), so there is nothing to skip on.
func (s *StrCmp) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool { return true }

// EstimatedSelectivity has no zone-map signal to draw on for strings;
// spec §4.3 gives equality a 1/distinct_estimate fallback of 0.1 and
// leaves other cases at the "unknown" 0.5.
func (s *StrCmp) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 {
	switch s.Op {
	case OpEq:
		return 0.1
	case OpNe:
		return 0.9
	default:
		return 0.5
	}
}
