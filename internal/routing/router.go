package routing

import (
	"strings"

	"relay/pkg/models"
)

// Route maps an event to a pipeline name. Pure: no side effects, safe for
// concurrent use against an immutable Table.
//
// An explicit pipeline on the event bypasses the rules entirely. Otherwise
// rules are tried in declared order and the first match wins; with no
// match the table's default applies.
func Route(event models.InboundEvent, table *Table) string {
	if event.ExplicitPipeline != "" {
		return event.ExplicitPipeline
	}

	for _, rule := range table.Rules {
		if rule.matches(event) {
			return rule.Pipeline
		}
	}

	return table.DefaultPipeline
}

func (r Rule) matches(event models.InboundEvent) bool {
	switch r.Kind {
	case MatchPrefix:
		return event.Source != "" && strings.HasPrefix(event.Source, r.Pattern)
	case MatchType:
		return event.EventType == r.Pattern
	case MatchExpr:
		return r.program != nil && evalExpr(r.program, event)
	default:
		return false
	}
}
