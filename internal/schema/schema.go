// Package schema validates records against named CUE schemas.
//
// A schema named "company-schema" lives in company-schema.cue and must define
// a #Record definition. Records arrive as JSON text and are unified with
// #Record; every resulting error becomes a Violation. Built-in schemas are
// embedded; additional directories may be registered and take precedence.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schemas/*.cue
var builtin embed.FS

// recordDefinition is the definition every schema file exports.
const recordDefinition = "#Record"

// ErrUnknownSchema is returned when no schema file matches a name.
var ErrUnknownSchema = errors.New("unknown schema")

// Failed-attribute categories reported in Violations.
const (
	AttrRequired   = "Required"
	AttrAdditional = "AdditionalProperties"
	AttrType       = "Type"
	AttrOneOf      = "OneOf"
	AttrConstraint = "Constraint"
)

// Violation is one reason a record failed validation.
type Violation struct {
	FailedAttribute string `json:"failed_attribute"`
	Message         string `json:"message"`
}

// Engine loads and caches CUE schemas. Not safe for concurrent use.
type Engine struct {
	ctx     *cue.Context
	dirs    []string
	schemas map[string]cue.Value
}

// Option configures an Engine.
type Option func(*Engine)

// WithSchemaDir adds a directory searched for <name>.cue before the built-ins.
func WithSchemaDir(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.dirs = append(e.dirs, dir)
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks jsonText against the named schema. An empty result means valid.
// Errors are reserved for unknown schemas and malformed input.
func (e *Engine) Validate(name string, jsonText []byte) ([]Violation, error) {
	def, err := e.schema(name)
	if err != nil {
		return nil, err
	}

	data := e.ctx.CompileBytes(jsonText, cue.Filename("record.json"))
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}

	err = def.Unify(data).Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return []Violation{}, nil
	}
	return toViolations(err), nil
}

// schema returns the compiled #Record definition for name.
func (e *Engine) schema(name string) (cue.Value, error) {
	if v, ok := e.schemas[name]; ok {
		return v, nil
	}

	src, filename, err := e.source(name)
	if err != nil {
		return cue.Value{}, err
	}

	v := e.ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile schema %s: %w", name, err)
	}
	def := v.LookupPath(cue.ParsePath(recordDefinition))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("schema %s: %s not defined", name, recordDefinition)
	}

	e.schemas[name] = def
	return def, nil
}

func (e *Engine) source(name string) ([]byte, string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	filename := name + ".cue"

	for _, dir := range e.dirs {
		path := filepath.Join(dir, filename)
		src, err := os.ReadFile(path)
		if err == nil {
			return src, path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("read schema %s: %w", path, err)
		}
	}

	src, err := builtin.ReadFile("schemas/" + filename)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return src, filename, nil
}

// toViolations flattens a CUE error list, dropping duplicates.
func toViolations(err error) []Violation {
	seen := make(map[string]bool)
	var out []Violation
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)

		path := trimDefinition(e.Path())
		if path != "" {
			msg = path + ": " + msg
		}
		if seen[msg] {
			continue
		}
		seen[msg] = true

		out = append(out, Violation{
			FailedAttribute: classify(msg),
			Message:         msg,
		})
	}
	if len(out) == 0 {
		out = append(out, Violation{FailedAttribute: AttrConstraint, Message: err.Error()})
	}
	return out
}

func trimDefinition(path []string) string {
	if len(path) > 0 && path[0] == recordDefinition {
		path = path[1:]
	}
	return strings.Join(path, ".")
}

func classify(msg string) string {
	switch {
	case strings.Contains(msg, "required but not present"), strings.Contains(msg, "incomplete value"):
		return AttrRequired
	case strings.Contains(msg, "not allowed"):
		return AttrAdditional
	case strings.Contains(msg, "mismatched types"), strings.Contains(msg, "conflicting values"):
		return AttrType
	case strings.Contains(msg, "disjunction"):
		return AttrOneOf
	default:
		return AttrConstraint
	}
}
