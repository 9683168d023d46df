// Package policy loads drawer and gate definitions, evaluates each gate to a
// single boolean and packs the outcomes into an opaque BitVector.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"Guardrail/internal/domain/models"
	"Guardrail/pkg/logger"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	costLimit         = 10000
	interruptInterval = 100
)

// Engine compiles gate predicates and certifies rule documents.
// Compiled programs are cached by expression.
type Engine struct {
	env    *cel.Env
	schema *jsonschema.Schema
	log    *logger.Logger

	mu    sync.RWMutex
	cache map[string]cel.Program
}

type EngineOption func(*Engine)

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func NewEngine(opts ...EngineOption) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("market", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	schema, err := compileDocumentSchema()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		env:    env,
		schema: schema,
		log:    logger.Nop(),
		cache:  make(map[string]cel.Program),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Compile type-checks expr and returns its program. Anything that does not
// check to bool is rejected.
func (e *Engine) Compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile: predicate must be bool, got %s", ast.OutputType())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(interruptInterval),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expr] = p
	return p, nil
}

// Evaluate runs a single gate against market. Any compile or runtime error,
// including a missing field, evaluates to false.
func (e *Engine) Evaluate(g models.GateDefinition, market models.MarketState) bool {
	prg, err := e.Compile(g.When)
	if err != nil {
		e.log.Debug("gate not compilable", logger.String("gate", g.ID), logger.Error(err))
		return false
	}
	return run(prg, market)
}

// EvaluateDrawer evaluates every gate of d independently, in declaration order.
func (e *Engine) EvaluateDrawer(d models.DrawerDefinition, market models.MarketState) []models.GateResult {
	out := make([]models.GateResult, len(d.Gates))
	for i, g := range d.Gates {
		out[i] = models.GateResult{GateID: g.ID, Passed: e.Evaluate(g, market)}
	}
	return out
}

func run(prg cel.Program, market models.MarketState) bool {
	if market == nil {
		market = models.MarketState{}
	}
	out, _, err := prg.Eval(map[string]any{"market": map[string]any(market)})
	if err != nil {
		return false
	}
	v, ok := out.Value().(bool)
	return ok && v
}

// LoadFile reads and certifies a YAML or JSON rule document.
func (e *Engine) LoadFile(path string) (*Ruleset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drawers: %w", err)
	}
	rs, err := e.Load(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Load certifies a rule document: forbidden keys, document schema, unique
// gate ids and bool-typed predicates. On any failure no gates are loaded.
func (e *Engine) Load(data []byte) (*Ruleset, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, &ValidationError{Violations: []Violation{{Message: err.Error()}}}
	}

	if vs := forbiddenFields(doc); len(vs) > 0 {
		return nil, &ValidationError{Violations: vs}
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, &ValidationError{Violations: schemaViolations(err)}
	}

	var parsed struct {
		Drawers []models.DrawerDefinition `yaml:"drawers"`
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, &ValidationError{Violations: []Violation{{Message: err.Error()}}}
	}

	rs, vs := e.build(parsed.Drawers)
	if len(vs) > 0 {
		return nil, &ValidationError{Violations: vs}
	}
	e.log.Info("policy ruleset loaded",
		logger.Int("drawers", len(rs.drawers)),
		logger.Strings("gates", rs.GateIDs()),
	)
	return rs, nil
}

func (e *Engine) build(drawers []models.DrawerDefinition) (*Ruleset, []Violation) {
	rs := &Ruleset{
		drawerIndex: make(map[string]int, len(drawers)),
		programs:    make(map[string]cel.Program),
	}
	var vs []Violation
	seen := make(map[string]string)

	for di, d := range drawers {
		if _, dup := rs.drawerIndex[d.ID]; dup {
			vs = append(vs, Violation{
				Drawer:  d.ID,
				Path:    fmt.Sprintf("/drawers/%d/id", di),
				Message: "duplicate drawer id",
			})
			continue
		}
		for gi := range d.Gates {
			g := &d.Gates[gi]
			g.Drawer = d.ID
			path := fmt.Sprintf("/drawers/%d/gates/%d", di, gi)
			if owner, dup := seen[g.ID]; dup {
				vs = append(vs, Violation{
					Drawer:  d.ID,
					Gate:    g.ID,
					Path:    path + "/id",
					Message: fmt.Sprintf("gate id already declared in drawer %s", owner),
				})
				continue
			}
			seen[g.ID] = d.ID
			prg, err := e.Compile(g.When)
			if err != nil {
				vs = append(vs, Violation{Drawer: d.ID, Gate: g.ID, Path: path + "/when", Message: err.Error()})
				continue
			}
			rs.programs[g.ID] = prg
			rs.gateIDs = append(rs.gateIDs, g.ID)
		}
		rs.drawerIndex[d.ID] = len(rs.drawers)
		rs.drawers = append(rs.drawers, d)
	}
	return rs, vs
}

// decodeDocument turns YAML (or JSON, which is YAML) into the plain JSON
// value tree the schema validator expects.
func decodeDocument(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode: empty document")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}
