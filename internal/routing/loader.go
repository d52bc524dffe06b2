package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"relay/internal/constants"
	pkgerrors "relay/pkg/errors"
)

// document is the external routing configuration shape. Route keys carry
// their kind as a prefix: "blob:<path-prefix>", "type:<event-type>" or
// "cel:<expression>".
type document struct {
	DefaultPipeline string            `json:"defaultPipeline"`
	Routes          map[string]string `json:"routes"`
}

// Load parses a routing document into an immutable Table. JSON objects
// are unordered, so keys are sorted before rule construction to keep
// first-match-wins deterministic across reloads.
func Load(data []byte) (*Table, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, pkgerrors.ErrConfig.WithCause(err).WithDetail("message", "routing document is not valid JSON")
	}

	if doc.DefaultPipeline == "" {
		return nil, pkgerrors.ErrConfig.WithDetail("message", "routing document lacks defaultPipeline")
	}

	keys := make([]string, 0, len(doc.Routes))
	for key := range doc.Routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env, err := newExprEnv()
	if err != nil {
		return nil, pkgerrors.ErrConfig.WithCause(err)
	}

	rules := make([]Rule, 0, len(keys))
	for _, key := range keys {
		pipeline := doc.Routes[key]
		if pipeline == "" {
			return nil, pkgerrors.ErrConfig.WithDetail("message", fmt.Sprintf("route %q lacks a pipeline name", key))
		}

		rule, err := parseRule(env, key, pipeline)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return &Table{
		DefaultPipeline: doc.DefaultPipeline,
		Rules:           rules,
	}, nil
}

// LoadFile reads and parses the routing document at path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.ErrConfig.WithCause(err).WithDetail("message", fmt.Sprintf("cannot read routing document %s", path))
	}
	return Load(data)
}

func parseRule(env *cel.Env, key, pipeline string) (Rule, error) {
	switch {
	case strings.HasPrefix(key, constants.RoutePrefixBlob):
		return Rule{
			Kind:     MatchPrefix,
			Pattern:  key,
			Pipeline: pipeline,
		}, nil

	case strings.HasPrefix(key, constants.RoutePrefixType):
		return Rule{
			Kind:     MatchType,
			Pattern:  strings.TrimPrefix(key, constants.RoutePrefixType),
			Pipeline: pipeline,
		}, nil

	case strings.HasPrefix(key, constants.RoutePrefixExpr):
		expression := strings.TrimPrefix(key, constants.RoutePrefixExpr)
		program, err := compileExpr(env, expression)
		if err != nil {
			return Rule{}, pkgerrors.ErrConfig.WithCause(err).WithDetail("message", fmt.Sprintf("invalid expression route %q", key))
		}
		return Rule{
			Kind:     MatchExpr,
			Pattern:  expression,
			Pipeline: pipeline,
			program:  program,
		}, nil

	default:
		return Rule{}, pkgerrors.ErrConfig.WithDetail("message", fmt.Sprintf("route key %q has no recognized kind prefix", key))
	}
}
