package policy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrForbiddenField = errors.New("policy: forbidden field")
	ErrInvalidRuleset = errors.New("policy: invalid ruleset")
)

// ForbiddenKeys are the key tokens a rule document may never carry. A key is
// split into words (snake, kebab and camel case) and rejected when any word,
// singular or plural, is in this list.
var ForbiddenKeys = []string{
	"grade",
	"score",
	"confidence",
	"weight",
	"rank",
	"ranking",
	"rating",
	"probability",
	"prob",
	"likelihood",
	"percent",
	"percentage",
	"pct",
	"certainty",
	"conviction",
	"strength",
}

var forbidden = func() map[string]struct{} {
	m := make(map[string]struct{}, len(ForbiddenKeys))
	for _, k := range ForbiddenKeys {
		m[k] = struct{}{}
	}
	return m
}()

// gluedSuffixes are tokens also caught at the end of a run-together word
// ("minscore"). Tokens that ordinary words end in ("operating") are left out.
var gluedSuffixes = []string{
	"score",
	"confidence",
	"probability",
	"likelihood",
	"percent",
	"percentage",
	"certainty",
	"conviction",
	"weight",
	"grade",
	"rank",
}

// plainWords end in a glued suffix but carry no graded meaning.
var plainWords = map[string]struct{}{
	"upgrade":    {},
	"downgrade":  {},
	"degrade":    {},
	"retrograde": {},
	"centigrade": {},
	"frank":      {},
	"crank":      {},
	"drank":      {},
	"prank":      {},
	"shrank":     {},
}

// IsForbiddenKey reports whether key names an aggregate or graded quantity.
func IsForbiddenKey(key string) bool {
	for _, w := range keyWords(key) {
		if forbiddenWord(w) {
			return true
		}
		if s := strings.TrimSuffix(w, "s"); s != w && forbiddenWord(s) {
			return true
		}
	}
	return false
}

func forbiddenWord(w string) bool {
	if _, ok := forbidden[w]; ok {
		return true
	}
	if _, ok := plainWords[w]; ok {
		return false
	}
	for _, suf := range gluedSuffixes {
		if len(w) > len(suf) && strings.HasSuffix(w, suf) {
			return true
		}
	}
	return false
}

// keyWords splits snake, kebab and camel case keys, including acronym runs
// ("HTTPScore" is http, score) and letter/digit boundaries.
func keyWords(key string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if i > 0 && wordBoundary(runes[i-1], r, runes[i+1:]) {
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func wordBoundary(prev, r rune, rest []rune) bool {
	switch {
	case unicode.IsDigit(prev) != unicode.IsDigit(r):
		return unicode.IsLetter(prev) || unicode.IsLetter(r)
	case unicode.IsUpper(r) && unicode.IsLower(prev):
		return true
	case unicode.IsUpper(r) && unicode.IsUpper(prev):
		return len(rest) > 0 && unicode.IsLower(rest[0])
	}
	return false
}

// Violation is one reason a rule document was rejected.
type Violation struct {
	Drawer  string `json:"drawer,omitempty"`
	Gate    string `json:"gate,omitempty"`
	Path    string `json:"path"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(v.Path)
	if v.Drawer != "" {
		b.WriteString(" drawer=" + v.Drawer)
	}
	if v.Gate != "" {
		b.WriteString(" gate=" + v.Gate)
	}
	b.WriteString(": " + v.Message)
	return b.String()
}

// ValidationError lists every violation found in a rule document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "policy validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match ErrForbiddenField or ErrInvalidRuleset with errors.Is.
func (e *ValidationError) Unwrap() []error {
	errs := []error{ErrInvalidRuleset}
	for _, v := range e.Violations {
		if v.Key != "" {
			errs = append(errs, ErrForbiddenField)
			break
		}
	}
	return errs
}

const documentSchemaURL = "https://guardrail.schemas.local/policy/drawers.schema.json"

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["drawers"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "drawers": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/drawer"}
    }
  },
  "$defs": {
    "ident": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_.-]{0,63}$"},
    "drawer": {
      "type": "object",
      "required": ["id", "gates"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/$defs/ident"},
        "description": {"type": "string"},
        "gates": {
          "type": "array",
          "minItems": 1,
          "items": {"$ref": "#/$defs/gate"}
        }
      }
    },
    "gate": {
      "type": "object",
      "required": ["id", "when"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/$defs/ident"},
        "when": {"type": "string", "minLength": 1},
        "description": {"type": "string"}
      }
    }
  }
}`

func compileDocumentSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("policy schema load failed: %w", err)
	}
	s, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("policy schema compile failed: %w", err)
	}
	return s, nil
}

// forbiddenFields walks a decoded document and reports every forbidden key
// at any depth, attributed to the enclosing drawer and gate when known.
func forbiddenFields(doc any) []Violation {
	var out []Violation
	var walk func(v any, path, drawer, gate string, depth int)
	walk = func(v any, path, drawer, gate string, depth int) {
		switch t := v.(type) {
		case map[string]any:
			if id, ok := t["id"].(string); ok {
				switch depth {
				case 2:
					drawer = id
				case 4:
					gate = id
				}
			}
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				p := path + "/" + escapePointer(k)
				if IsForbiddenKey(k) {
					out = append(out, Violation{
						Drawer:  drawer,
						Gate:    gate,
						Path:    p,
						Key:     k,
						Message: fmt.Sprintf("forbidden field %q", k),
					})
					continue
				}
				walk(t[k], p, drawer, gate, depth+1)
			}
		case []any:
			for i, e := range t {
				walk(e, path+"/"+strconv.Itoa(i), drawer, gate, depth+1)
			}
		}
	}
	walk(doc, "", "", "", 0)
	return out
}

// schemaViolations flattens a jsonschema error tree into leaf violations.
func schemaViolations(err error) []Violation {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Violation{{Path: "", Message: err.Error()}}
	}
	var out []Violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Violation{Path: e.InstanceLocation, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}
