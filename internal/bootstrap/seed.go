// Package bootstrap loads the meta-graph from a declarative YAML seed.
//
// A seed lists NodeTypes, Actions (with the types that CAN_PERFORM them),
// Constraints (with the actions they RESTRICT) and ALLOWS_CONNECTION facts.
// The default seed is embedded in the binary; loading it is idempotent, so
// the server loads it on every start.
package bootstrap

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/graphmcp/internal/policy"
)

//go:embed seed.yaml
var defaultSeed []byte

// ErrInvalidSeed wraps every validation failure.
var ErrInvalidSeed = errors.New("bootstrap: invalid seed")

// Seed is the declarative form of the meta-graph.
type Seed struct {
	NodeTypes   []NodeType   `yaml:"node_types,omitempty" validate:"dive"`
	Actions     []Action     `yaml:"actions,omitempty" validate:"dive"`
	Constraints []Constraint `yaml:"constraints,omitempty" validate:"dive"`
	Connections []Connection `yaml:"connections,omitempty" validate:"dive"`
}

// NodeType declares a domain type.
type NodeType struct {
	Name        string `yaml:"name" validate:"required,typename"`
	Description string `yaml:"description,omitempty"`
	MaxCount    int    `yaml:"max_count,omitempty" validate:"gte=0"`
}

// Action declares a tool visible globally or from the listed types.
type Action struct {
	Name        string   `yaml:"name" validate:"required,excludesall= /"`
	Tool        string   `yaml:"tool" validate:"required"`
	Scope       string   `yaml:"scope" validate:"required,oneof=global contextual"`
	TargetType  string   `yaml:"target_type,omitempty" validate:"required_if=Tool create_concept"`
	LinkType    string   `yaml:"link_type,omitempty" validate:"omitempty,oneof=DECOMPOSES RELATES_TO DEPENDS_ON IMPLEMENTS"`
	Description string   `yaml:"description,omitempty"`
	PerformedBy []string `yaml:"performed_by,omitempty" validate:"excluded_if=Scope global"`
}

// Constraint declares a content rule and the actions it restricts.
type Constraint struct {
	Name        string   `yaml:"name" validate:"required,excludesall= /"`
	Function    string   `yaml:"function" validate:"required,predicate"`
	Operator    string   `yaml:"operator,omitempty" validate:"omitempty,operator"`
	Threshold   float64  `yaml:"threshold,omitempty"`
	Pattern     string   `yaml:"pattern,omitempty"`
	TargetLabel string   `yaml:"target_label,omitempty"`
	CharClass   string   `yaml:"char_class,omitempty" validate:"omitempty,oneof=cyrillic latin digit"`
	Metric      string   `yaml:"metric,omitempty" validate:"omitempty,oneof=text_length word_count"`
	Message     string   `yaml:"message,omitempty"`
	Restricts   []string `yaml:"restricts" validate:"required,min=1"`
}

// Connection declares one legal (:From)-[:Relation]->(:To) edge.
type Connection struct {
	From     string `yaml:"from" validate:"required"`
	Relation string `yaml:"relation" validate:"required,uppercase"`
	To       string `yaml:"to" validate:"required"`
}

func (c Connection) String() string {
	return fmt.Sprintf("(:%s)-[:%s]->(:%s)", c.From, c.Relation, c.To)
}

var seedValidate *validator.Validate

func init() {
	seedValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = seedValidate.RegisterValidation("predicate", func(fl validator.FieldLevel) bool {
		_, ok := policy.Lookup(fl.Field().String())
		return ok
	})
	_ = seedValidate.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		return policy.ValidateOperator(fl.Field().String()) == nil
	})
	_ = seedValidate.RegisterValidation("typename", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return name != "" && !strings.ContainsAny(name, " /-")
	})
}

// Default returns the embedded seed.
func Default() (*Seed, error) {
	return Parse(defaultSeed)
}

// DefaultYAML returns the embedded seed source.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultSeed...)
}

// ReadFile parses and validates a seed file.
func ReadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a complete seed. Every name a fact refers to
// must be declared in the same seed.
func Parse(data []byte) (*Seed, error) {
	s, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(Known{}); err != nil {
		return nil, err
	}
	return s, nil
}

func decode(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	return &s, nil
}

// Known lists facts that exist outside the seed being validated, so a
// partial seed may refer to them.
type Known struct {
	Types   map[string]bool
	Actions map[string]bool
}

// Validate checks field rules and cross references. It reports every
// problem, not only the first.
func (s *Seed) Validate(known Known) error {
	var problems []string
	if err := seedValidate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidSeed, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	types := make(map[string]bool)
	for t := range known.Types {
		types[t] = true
	}
	for _, nt := range s.NodeTypes {
		if types[nt.Name] && !known.Types[nt.Name] {
			problems = append(problems, "duplicate node type "+nt.Name)
		}
		types[nt.Name] = true
	}
	actions := make(map[string]bool)
	for a := range known.Actions {
		actions[a] = true
	}
	for _, a := range s.Actions {
		if actions[a.Name] && !known.Actions[a.Name] {
			problems = append(problems, "duplicate action "+a.Name)
		}
		actions[a.Name] = true
	}

	for _, a := range s.Actions {
		if a.TargetType != "" && !types[a.TargetType] {
			problems = append(problems, fmt.Sprintf("action %s targets undeclared type %s", a.Name, a.TargetType))
		}
		for _, t := range a.PerformedBy {
			if !types[t] {
				problems = append(problems, fmt.Sprintf("action %s is performed by undeclared type %s", a.Name, t))
			}
		}
	}
	for _, c := range s.Constraints {
		for _, a := range c.Restricts {
			if !actions[a] {
				problems = append(problems, fmt.Sprintf("constraint %s restricts undeclared action %s", c.Name, a))
			}
		}
		if policy.Canonical(c.Function) == policy.PredPatternMatch && c.Pattern == "" {
			problems = append(problems, fmt.Sprintf("constraint %s: pattern_match needs a pattern", c.Name))
		}
		if policy.Canonical(c.Function) == policy.PredCountCheck && c.TargetLabel == "" {
			problems = append(problems, fmt.Sprintf("constraint %s: count_check needs a target_label", c.Name))
		}
	}
	for _, c := range s.Connections {
		if !types[c.From] || !types[c.To] {
			problems = append(problems, fmt.Sprintf("connection %s uses an undeclared type", c))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidSeed, strings.Join(problems, "\n  - "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Seed.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return field + " is required for create_concept actions"
	case "excluded_if":
		return field + " must be empty for global actions"
	case "oneof":
		return fmt.Sprintf("%s %q must be one of: %s", field, fe.Value(), fe.Param())
	case "predicate":
		return fmt.Sprintf("%s %q is not a known predicate (%s)", field, fe.Value(), strings.Join(policy.Predicates(), ", "))
	case "operator":
		return fmt.Sprintf("%s %q is not a valid operator", field, fe.Value())
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}
