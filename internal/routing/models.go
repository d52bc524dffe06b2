package routing

import (
	"github.com/google/cel-go/cel"
)

type MatchKind int

const (
	MatchPrefix MatchKind = iota
	MatchType
	MatchExpr
)

func (k MatchKind) String() string {
	switch k {
	case MatchPrefix:
		return "prefix"
	case MatchType:
		return "type"
	case MatchExpr:
		return "expr"
	default:
		return "unknown"
	}
}

// Rule is one routing entry. For MatchExpr rules the CEL program is
// compiled at load time so routing stays a pure lookup.
type Rule struct {
	Kind     MatchKind
	Pattern  string
	Pipeline string
	program  cel.Program
}

// Table is an immutable routing snapshot. It is never mutated after Load;
// reloads build a new Table and swap it wholesale.
type Table struct {
	DefaultPipeline string
	Rules           []Rule
}
