// Package sqlingest implements the regex-recognized SQL subset of
// spec.md §6.4: SELECT projection|agg_list FROM name [WHERE expr]
// [GROUP BY col] [LIMIT n] [OFFSET m]. It never builds or runs a query
// itself; Parse only translates the string into the same plan.Node tree
// an expression-tree front end would produce, so the rest of the engine
// never distinguishes a SQL-ingress query from any other.
package sqlingest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/decimal128"
	"github.com/spf13/cast"

	"github.com/src-d/arrowquery/aggregate"
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/plan"
	"github.com/src-d/arrowquery/predicate"
)

var statementPattern = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)` +
	`(?:\s+WHERE\s+(.+?))?` +
	`(?:\s+GROUP\s+BY\s+(\w+))?` +
	`(?:\s+LIMIT\s+(\d+))?` +
	`(?:\s+OFFSET\s+(\d+))?` +
	`\s*;?\s*$`)

// Parse recognizes query against b's schema and returns the equivalent
// plan.Node chain, rooted at a Scan over source. b supplies the column
// types Parse needs to pick the right typed predicate/aggregate variant.
func Parse(query string, b *batch.RecordBatch) (plan.Node, error) {
	m := statementPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, errkind.Unsupported.New("query does not match the supported SELECT ... FROM ... subset")
	}
	projection, source, where, groupKey, limitStr, offsetStr := m[1], m[2], m[3], m[4], m[5], m[6]

	var root plan.Node = &plan.Scan{Source: source, RowCount: b.NumRows()}

	if strings.TrimSpace(where) != "" {
		pred, err := parseWhere(where, b)
		if err != nil {
			return nil, err
		}
		root = &plan.Filter{Input: root, Predicates: []predicate.Predicate{pred}, Selectivity: pred.EstimatedSelectivity(nil, b.NumRows())}
	}

	aggs, isAggProjection, err := parseProjection(projection, b, groupKey)
	if err != nil {
		return nil, err
	}

	switch {
	case groupKey != "":
		if !isAggProjection {
			return nil, errkind.Unsupported.New("GROUP BY requires an aggregate projection")
		}
		root = &plan.GroupBy{Input: root, KeyColumn: groupKey, KeyPropertyName: groupKey, Aggregates: aggs}
	case isAggProjection:
		if len(aggs) != 1 {
			return nil, errkind.Unsupported.New("a non-grouped aggregate query supports exactly one aggregate")
		}
		root = &plan.Aggregate{Input: root, Desc: aggs[0]}
	default:
		if cols, ok := plainColumns(projection); ok && len(cols) > 0 {
			root = &plan.Project{Input: root, Columns: cols}
		}
	}

	if offsetStr != "" {
		n, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid OFFSET value")
		}
		root = &plan.Offset{Input: root, N: n}
	}
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid LIMIT value")
		}
		root = &plan.Limit{Input: root, N: n}
	}

	return root, nil
}

var aggCallPattern = regexp.MustCompile(`(?i)^(COUNT|SUM|AVG|MIN|MAX)\(\s*(\*|\w+)\s*\)$`)

// parseProjection recognizes a comma-separated aggregate-call list
// ("COUNT(*)", "SUM(ColB), MIN(ColB)"), returning its Descriptors and
// true, or reports isAggProjection=false for a plain column list/"*" so
// the caller falls back to a Project node. When groupKey is set, a bare
// reference to the key column is allowed alongside the aggregate calls
// (the GROUP BY projection convention "SELECT key, COUNT(*) ... GROUP BY
// key") and is skipped rather than treated as an aggregate.
func parseProjection(projection string, b *batch.RecordBatch, groupKey string) ([]aggregate.Descriptor, bool, error) {
	fields := splitTopLevel(projection, ',')
	aggs := make([]aggregate.Descriptor, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if groupKey != "" && strings.EqualFold(f, groupKey) {
			continue
		}
		m := aggCallPattern.FindStringSubmatch(f)
		if m == nil {
			if groupKey != "" {
				return nil, false, errkind.Unsupported.New("GROUP BY projection field is neither the key column nor an aggregate call: " + f)
			}
			return nil, false, nil
		}
		op, col := strings.ToUpper(m[1]), m[2]
		desc := aggregate.Descriptor{ResultName: strings.ToLower(op) + "_" + col}
		switch op {
		case "COUNT":
			if col == "*" {
				desc.Op, desc.Column = aggregate.Count, ""
				desc.ResultName = "count"
			} else {
				desc.Op, desc.Column = aggregate.LongCount, col
			}
		case "SUM":
			desc.Op = aggregate.Sum
		case "AVG":
			desc.Op = aggregate.Avg
		case "MIN":
			desc.Op = aggregate.Min
		case "MAX":
			desc.Op = aggregate.Max
		}
		if desc.Column != "" {
			if _, err := b.ColumnType(desc.Column); err != nil {
				return nil, false, err
			}
		}
		aggs = append(aggs, desc)
	}
	return aggs, true, nil
}

// plainColumns recognizes a plain, non-aggregate projection: "*" means
// "no Project node, all columns", anything else is a comma-separated
// column list.
func plainColumns(projection string) ([]string, bool) {
	projection = strings.TrimSpace(projection)
	if projection == "*" {
		return nil, false
	}
	cols := splitTopLevel(projection, ',')
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, strings.TrimSpace(c))
	}
	return out, true
}

// splitTopLevel splits s on sep, ignoring occurrences inside parentheses
// (so "SUM(a), MIN(b)" splits into two fields, not four).
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// --- WHERE expression parsing -------------------------------------------

var tokenPattern = regexp.MustCompile(`(?i)` +
	`'(?:[^']|'')*'` + `|` + // quoted string
	`<>|!=|<=|>=|[=<>()]` + `|` +
	`\bAND\b|\bOR\b|\bNOT\b|\bLIKE\b` + `|` +
	`[A-Za-z_][A-Za-z0-9_]*` + `|` +
	`-?\d+\.\d+|-?\d+`)

type tokenStream struct {
	toks []string
	pos  int
}

func (t *tokenStream) peek() string {
	if t.pos >= len(t.toks) {
		return ""
	}
	return t.toks[t.pos]
}

func (t *tokenStream) next() string {
	tok := t.peek()
	t.pos++
	return tok
}

func (t *tokenStream) peekUpper() string { return strings.ToUpper(t.peek()) }

func parseWhere(expr string, b *batch.RecordBatch) (predicate.Predicate, error) {
	toks := tokenPattern.FindAllString(expr, -1)
	ts := &tokenStream{toks: toks}
	pred, err := parseOr(ts, b)
	if err != nil {
		return nil, err
	}
	if ts.pos != len(ts.toks) {
		return nil, errkind.Unsupported.New("unexpected token in WHERE clause: " + ts.peek())
	}
	return pred, nil
}

func parseOr(ts *tokenStream, b *batch.RecordBatch) (predicate.Predicate, error) {
	left, err := parseAnd(ts, b)
	if err != nil {
		return nil, err
	}
	for ts.peekUpper() == "OR" {
		ts.next()
		right, err := parseAnd(ts, b)
		if err != nil {
			return nil, err
		}
		left = predicate.NewOr(left, right)
	}
	return left, nil
}

func parseAnd(ts *tokenStream, b *batch.RecordBatch) (predicate.Predicate, error) {
	left, err := parseUnary(ts, b)
	if err != nil {
		return nil, err
	}
	for ts.peekUpper() == "AND" {
		ts.next()
		right, err := parseUnary(ts, b)
		if err != nil {
			return nil, err
		}
		left = predicate.NewAnd(left, right)
	}
	return left, nil
}

func parseUnary(ts *tokenStream, b *batch.RecordBatch) (predicate.Predicate, error) {
	if ts.peekUpper() == "NOT" {
		ts.next()
		inner, err := parseUnary(ts, b)
		if err != nil {
			return nil, err
		}
		return predicate.NewNot(inner), nil
	}
	return parsePrimary(ts, b)
}

func parsePrimary(ts *tokenStream, b *batch.RecordBatch) (predicate.Predicate, error) {
	if ts.peek() == "(" {
		ts.next()
		inner, err := parseOr(ts, b)
		if err != nil {
			return nil, err
		}
		if ts.peek() != ")" {
			return nil, errkind.Unsupported.New("unbalanced parentheses in WHERE clause")
		}
		ts.next()
		return inner, nil
	}
	return parseComparison(ts, b)
}

var opTokens = map[string]predicate.CompareOp{
	"=": predicate.OpEq, "!=": predicate.OpNe, "<>": predicate.OpNe,
	"<": predicate.OpLt, "<=": predicate.OpLe, ">": predicate.OpGt, ">=": predicate.OpGe,
}

func parseComparison(ts *tokenStream, b *batch.RecordBatch) (predicate.Predicate, error) {
	column := ts.next()
	if column == "" {
		return nil, errkind.Unsupported.New("expected a column name in WHERE clause")
	}

	opTok := ts.peek()
	if strings.EqualFold(opTok, "LIKE") {
		ts.next()
		pattern, err := literalString(ts.next())
		if err != nil {
			return nil, err
		}
		return likePredicate(column, pattern), nil
	}

	op, ok := opTokens[opTok]
	if !ok {
		return nil, errkind.Unsupported.New("expected a comparison operator, got " + opTok)
	}
	ts.next()
	value := ts.next()

	if strings.EqualFold(value, "NULL") {
		return predicate.NewIsNull(column, op == predicate.OpEq), nil
	}
	return comparisonPredicate(column, op, value, b)
}

func likePredicate(column, pattern string) predicate.Predicate {
	hasPrefix := strings.HasPrefix(pattern, "%")
	hasSuffix := strings.HasSuffix(pattern, "%")
	trimmed := strings.TrimSuffix(strings.TrimPrefix(pattern, "%"), "%")
	switch {
	case hasPrefix && hasSuffix:
		return predicate.NewStrCmp(column, predicate.OpContains, trimmed, predicate.Ordinal)
	case hasSuffix:
		return predicate.NewStrCmp(column, predicate.OpStartsWith, trimmed, predicate.Ordinal)
	case hasPrefix:
		return predicate.NewStrCmp(column, predicate.OpEndsWith, trimmed, predicate.Ordinal)
	default:
		return predicate.NewStrCmp(column, predicate.OpEq, trimmed, predicate.Ordinal)
	}
}

func literalString(tok string) (string, error) {
	if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		return strings.ReplaceAll(tok[1:len(tok)-1], "''", "'"), nil
	}
	return tok, nil
}

// comparisonPredicate coerces value via spf13/cast into whatever Go type
// column's own Arrow type demands: Cmp[T] requires T to match the
// column's array element type exactly (int32 column needs Cmp[int32],
// not Cmp[int64]), so the column's type is resolved first and the
// literal is cast to fit it, rather than the literal's own shape picking
// the predicate type.
func comparisonPredicate(column string, op predicate.CompareOp, value string, b *batch.RecordBatch) (predicate.Predicate, error) {
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		s, err := literalString(value)
		if err != nil {
			return nil, err
		}
		return predicate.NewStrCmp(column, op, s, predicate.Ordinal), nil
	}
	if strings.EqualFold(value, "true") || strings.EqualFold(value, "false") {
		bv, err := cast.ToBoolE(value)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid boolean literal " + value)
		}
		return predicate.NewBool(column, bv), nil
	}

	colType, err := b.ColumnType(column)
	if err != nil {
		return nil, err
	}
	switch colType {
	case arrow.INT32:
		i, err := cast.ToInt32E(value)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid numeric literal " + value)
		}
		return predicate.NewCmp(column, op, i), nil
	case arrow.INT64:
		i, err := cast.ToInt64E(value)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid numeric literal " + value)
		}
		return predicate.NewCmp(column, op, i), nil
	case arrow.FLOAT32:
		f, err := cast.ToFloat32E(value)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid numeric literal " + value)
		}
		return predicate.NewCmp(column, op, f), nil
	case arrow.FLOAT64:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid numeric literal " + value)
		}
		return predicate.NewCmp(column, op, f), nil
	case arrow.DECIMAL128:
		arr, err := b.ColumnByName(column)
		if err != nil {
			return nil, err
		}
		dt, ok := arr.DataType().(*arrow.Decimal128Type)
		if !ok {
			return nil, errkind.InvalidArgument.New("column " + column + " is not decimal128")
		}
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, errkind.InvalidArgument.New("invalid numeric literal " + value)
		}
		dv, err := decimal128.FromFloat64(f, dt.Precision, dt.Scale)
		if err != nil {
			return nil, errkind.InvalidArgument.New("literal " + value + " does not fit column " + column + "'s decimal precision/scale")
		}
		return predicate.NewDecimalCmp(column, op, dv), nil
	default:
		return nil, errkind.InvalidArgument.New("unsupported operator/type combination for column " + column)
	}
}
