package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/castvox/internal/observe"
)

// backrefRE finds positional backreferences ($0, $1, ...) in a template.
var backrefRE = regexp.MustCompile(`\$(\d+)`)

// Placeholder is a named value injected into response templates. Every
// literal occurrence of Name is replaced with the string form of Value.
type Placeholder struct {
	Name  string
	Value any
}

// Placeholders zips parallel name and value lists. Surplus entries of the
// longer list are ignored.
func Placeholders(names []string, values []any) []Placeholder {
	n := min(len(names), len(values))
	out := make([]Placeholder, n)
	for i := range n {
		out[i] = Placeholder{Name: names[i], Value: values[i]}
	}
	return out
}

// Result is the outcome of a successful [Engine.Parse].
type Result struct {
	// Response is the fully substituted template.
	Response string

	// Action is the matched rule's action tag.
	Action Action

	// Command is the first whitespace-delimited token of Response.
	Command string

	// Args holds the remaining tokens, each coerced to string, float64 or
	// bool according to the rule's ArgTypes.
	Args []any

	// Rule is the index of the matched rule in the table.
	Rule int
}

// ArgString returns argument i in string form, or "" when absent.
func (r Result) ArgString(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	if s, ok := r.Args[i].(string); ok {
		return s
	}
	return fmt.Sprint(r.Args[i])
}

// ArgNumber returns argument i as a float64. String arguments are parsed.
func (r Result) ArgNumber(i int) (float64, bool) {
	if i < 0 || i >= len(r.Args) {
		return 0, false
	}
	switch v := r.Args[i].(type) {
	case float64:
		return v, !math.IsNaN(v)
	case string:
		f := parseNumber(v)
		return f, !math.IsNaN(f)
	default:
		return 0, false
	}
}

// ArgInt returns argument i as an int when it is an integral number.
func (r Result) ArgInt(i int) (int, bool) {
	f, ok := r.ArgNumber(i)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// ArgBool returns argument i as a bool. String arguments follow the same
// rule as boolean coercion.
func (r Result) ArgBool(i int) (bool, bool) {
	if i < 0 || i >= len(r.Args) {
		return false, false
	}
	switch v := r.Args[i].(type) {
	case bool:
		return v, true
	case string:
		return strings.EqualFold(v, "true"), true
	default:
		return false, false
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records rule loads to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

type table struct {
	source string
	rules  []compiledRule
}

// Engine holds the active rule table. The table is replaced atomically on
// reload; Parse always sees one complete table. All methods are safe for
// concurrent use.
type Engine struct {
	log     *slog.Logger
	metrics *observe.Metrics
	table   atomic.Pointer[table]
}

// New returns an engine with an empty table.
func New(opts ...Option) *Engine {
	e := &Engine{log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	e.table.Store(&table{})
	return e
}

// Load reads, decodes and compiles the rule document at source (a file path
// or http(s) URL) and makes it the active table. On failure the previous
// table stays active and a *[LoadError] is returned.
func (e *Engine) Load(ctx context.Context, source string) error {
	data, err := fetch(ctx, source)
	if err != nil {
		return e.loadFailed(ctx, source, err)
	}
	return e.load(ctx, source, data)
}

func (e *Engine) load(ctx context.Context, source string, data []byte) error {
	rules, err := Decode(data)
	if err != nil {
		return e.loadFailed(ctx, source, err)
	}
	t, err := compileTable(source, rules)
	if err != nil {
		return e.loadFailed(ctx, source, err)
	}
	e.table.Store(t)
	e.log.Info("dispatch: rules loaded", "source", source, "rules", len(t.rules))
	if e.metrics != nil {
		e.metrics.RecordRuleLoad(ctx, "ok", len(t.rules))
	}
	return nil
}

func (e *Engine) loadFailed(ctx context.Context, source string, err error) error {
	if e.metrics != nil {
		e.metrics.RecordRuleLoad(ctx, "error", 0)
	}
	return &LoadError{Source: source, Err: err}
}

// SetRules compiles rules and makes them the active table. Every invalid
// rule is reported; on error the previous table stays active.
func (e *Engine) SetRules(rules []Rule) error {
	t, err := compileTable("", rules)
	if err != nil {
		return &LoadError{Source: "inline", Err: err}
	}
	e.table.Store(t)
	return nil
}

func compileTable(source string, rules []Rule) (*table, error) {
	t := &table{source: source, rules: make([]compiledRule, 0, len(rules))}
	var errs []error
	for i, r := range rules {
		cr, err := compile(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		t.rules = append(t.rules, cr)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return t, nil
}

// Rules returns a copy of the active rules in match order.
func (e *Engine) Rules() []Rule {
	t := e.table.Load()
	out := make([]Rule, len(t.rules))
	for i, cr := range t.rules {
		out[i] = cr.Rule
		out[i].ArgTypes = slices.Clone(cr.ArgTypes)
	}
	return out
}

// Len returns the number of active rules.
func (e *Engine) Len() int {
	return len(e.table.Load().rules)
}

// Source returns where the active table was loaded from, or "" for a table
// set with [Engine.SetRules].
func (e *Engine) Source() string {
	return e.table.Load().source
}

// Parse matches utterance against the active table. It reports false when no
// rule matches.
//
// Placeholders are applied in the order given, after backreference
// substitution and before tokenisation. When one placeholder name is a
// prefix of another, pass the longer one first.
func (e *Engine) Parse(utterance string, placeholders ...Placeholder) (Result, bool) {
	t := e.table.Load()
	for i, cr := range t.rules {
		m := cr.re.FindStringSubmatchIndex(utterance)
		if m == nil {
			continue
		}
		text := expandBackrefs(cr.Response, utterance, m)
		for _, p := range placeholders {
			if p.Name == "" {
				continue
			}
			text = strings.ReplaceAll(text, p.Name, fmt.Sprint(p.Value))
		}

		res := Result{Response: text, Action: cr.Action, Rule: i}
		tokens := strings.Fields(text)
		if len(tokens) == 0 {
			return res, true
		}
		res.Command = tokens[0]
		res.Args = make([]any, len(tokens)-1)
		for j, tok := range tokens[1:] {
			res.Args[j] = coerce(tok, cr.argType(j))
		}
		return res, true
	}
	return Result{}, false
}

// expandBackrefs replaces $N in template with capture group N of the match
// described by m. Missing or non-participating groups expand to "".
func expandBackrefs(template, subject string, m []int) string {
	if template == "" {
		return ""
	}
	return backrefRE.ReplaceAllStringFunc(template, func(ref string) string {
		n, err := strconv.Atoi(ref[1:])
		if err != nil || 2*n+1 >= len(m) || m[2*n] < 0 {
			return ""
		}
		return subject[m[2*n]:m[2*n+1]]
	})
}

// coerce converts tok to the declared kind. It never fails.
func coerce(tok string, t ArgType) any {
	switch t {
	case ArgNumber:
		return parseNumber(tok)
	case ArgBoolean:
		return strings.EqualFold(tok, "true")
	default:
		return tok
	}
}

// parseNumber parses tok as a float64. Unparseable input yields NaN; out of
// range input yields ±Inf.
func parseNumber(tok string) float64 {
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return f
		}
		return math.NaN()
	}
	return f
}
