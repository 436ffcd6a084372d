package patterns

import (
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/alerthub/alerthub/internal/database"
)

// Binding is the flat field view of an alert a rule is evaluated against.
// Tags appear as tags.<key> holding the whole "key:value" string and
// attributes as attributes.<key>. Missing keys resolve to the empty string.
type Binding map[string]string

// BindAlert flattens an alert into rule bindings. Tags without a colon
// carry no key and are skipped with a warning.
func BindAlert(a *database.Alert) Binding {
	b := Binding{
		"id":          a.ID,
		"resource":    a.Resource,
		"event":       a.Event,
		"environment": a.Environment,
		"severity":    string(a.Severity),
		"status":      string(a.Status),
		"group":       a.Group,
		"value":       a.Value,
		"text":        a.Text,
		"origin":      a.Origin,
		"type":        a.EventType,
		"customer":    a.Customer,
		"service":     strings.Join(a.Service, ","),
	}
	for _, tag := range a.Tags {
		key, _, found := strings.Cut(tag, ":")
		if !found || key == "" {
			log.Printf("Skipping tag %q on alert %s: no key before ':'", tag, a.ID)
			continue
		}
		b["tags."+key] = tag
	}
	if a.Attributes.PatternName != "" {
		b["attributes.pattern_name"] = a.Attributes.PatternName
	}
	if a.Attributes.PatternID != "" {
		b["attributes.pattern_id"] = a.Attributes.PatternID
	}
	if a.Attributes.HostCritical != "" {
		b["attributes.host_critical"] = a.Attributes.HostCritical
	}
	for k, v := range a.Attributes.Extra {
		b["attributes."+k] = fmt.Sprint(v)
	}
	return b
}

// Rule is a compiled pattern expression. The boolean part selects
// candidate incident parents; SimilarFields, when present, name the text
// fields scored by fuzzy similarity afterwards.
type Rule struct {
	expr          expr
	SimilarFields []string
}

// HasSimilarity reports whether the rule carries a fuzzy directive.
func (r *Rule) HasSimilarity() bool {
	return len(r.SimilarFields) > 0
}

// Matches evaluates the boolean part of the rule for one candidate.
func (r *Rule) Matches(candidate, incoming Binding) bool {
	if r.expr == nil {
		return false
	}
	return r.expr.eval(&evalContext{candidate: candidate, incoming: incoming})
}

type evalContext struct {
	candidate Binding
	incoming  Binding
}

type expr interface {
	eval(ctx *evalContext) bool
}

type andExpr struct{ left, right expr }

func (e *andExpr) eval(ctx *evalContext) bool { return e.left.eval(ctx) && e.right.eval(ctx) }

type orExpr struct{ left, right expr }

func (e *orExpr) eval(ctx *evalContext) bool { return e.left.eval(ctx) || e.right.eval(ctx) }

type trueExpr struct{}

func (trueExpr) eval(*evalContext) bool { return true }

// operand resolves to a string at evaluation time: a quoted literal, a
// candidate field, or an incoming-alert field via the alert. prefix.
type operand struct {
	literal  bool
	value    string // literal text or field name
	incoming bool   // alert.<field> reference
}

func (o operand) resolve(ctx *evalContext) string {
	if o.literal {
		return o.value
	}
	if o.incoming {
		return ctx.incoming[o.value]
	}
	return ctx.candidate[o.value]
}

type cmpExpr struct {
	left, right operand
	op          string // "==", "!=", "contains"
}

func (e *cmpExpr) eval(ctx *evalContext) bool {
	l := e.left.resolve(ctx)
	r := e.right.resolve(ctx)
	switch e.op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "contains":
		return r != "" && strings.Contains(l, r)
	}
	return false
}

type inExpr struct {
	left    operand
	options []operand
}

func (e *inExpr) eval(ctx *evalContext) bool {
	l := e.left.resolve(ctx)
	for _, opt := range e.options {
		if l == opt.resolve(ctx) {
			return true
		}
	}
	return false
}

// Parse compiles a pattern rule expression.
//
// Grammar:
//
//	expr     := term { OR term }
//	term     := factor { AND factor }
//	factor   := '(' expr ')' | similar | comparison
//	similar  := SIMILAR '(' field { ',' field } ')'
//	cmp      := operand ('==' | '!=' | 'contains') operand
//	          | operand IN '(' operand { ',' operand } ')'
//	operand  := 'literal' | field | alert.field
//
// Keywords are case-insensitive. The similar directive always evaluates
// true inside the boolean expression; its fields are collected for the
// fuzzy re-ranking stage.
func Parse(ruleText string) (*Rule, error) {
	tokens, err := lex(ruleText)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	rule := &Rule{}
	e, err := p.parseOr(rule)
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected token %q at end of rule", p.peek().text)
	}
	rule.expr = e
	return rule, nil
}

// MustParse is a test convenience that panics on parse errors.
func MustParse(ruleText string) *Rule {
	r, err := Parse(ruleText)
	if err != nil {
		panic(err)
	}
	return r
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokLParen
	tokRParen
	tokComma
	tokEq
	tokNe
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ","})
			i++
		case c == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				i += 2
			} else {
				i++
			}
			tokens = append(tokens, token{tokEq, "=="})
		case c == '!':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}
			tokens = append(tokens, token{tokNe, "!="})
			i += 2
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			tokens = append(tokens, token{tokString, string(runes[i+1 : j])})
			i = j + 1
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) ||
				runes[j] == '_' || runes[j] == '.' || runes[j] == '-') {
				j++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr(rule *Rule) (expr, error) {
	left, err := p.parseAnd(rule)
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd(rule)
		if err != nil {
			return nil, err
		}
		left = &orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd(rule *Rule) (expr, error) {
	left, err := p.parseFactor(rule)
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parseFactor(rule)
		if err != nil {
			return nil, err
		}
		left = &andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseFactor(rule *Rule) (expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.parseOr(rule)
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' near %q", p.peek().text)
		}
		p.next()
		return e, nil
	}

	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, "similar") {
		return p.parseSimilar(rule)
	}
	return p.parseComparison()
}

func (p *parser) parseSimilar(rule *Rule) (expr, error) {
	p.next() // similar
	if p.peek().kind != tokLParen {
		return nil, fmt.Errorf("expected '(' after similar")
	}
	p.next()
	for {
		t := p.next()
		if t.kind != tokIdent {
			return nil, fmt.Errorf("expected field name in similar(), got %q", t.text)
		}
		rule.SimilarFields = append(rule.SimilarFields, t.text)
		sep := p.next()
		if sep.kind == tokRParen {
			break
		}
		if sep.kind != tokComma {
			return nil, fmt.Errorf("expected ',' or ')' in similar(), got %q", sep.text)
		}
	}
	return trueExpr{}, nil
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	switch {
	case t.kind == tokEq:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{left: left, right: right, op: "=="}, nil
	case t.kind == tokNe:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{left: left, right: right, op: "!="}, nil
	case t.kind == tokIdent && strings.EqualFold(t.text, "contains"):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{left: left, right: right, op: "contains"}, nil
	case t.kind == tokIdent && strings.EqualFold(t.text, "in"):
		p.next()
		if p.peek().kind != tokLParen {
			return nil, fmt.Errorf("expected '(' after in")
		}
		p.next()
		e := &inExpr{left: left}
		for {
			opt, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			e.options = append(e.options, opt)
			sep := p.next()
			if sep.kind == tokRParen {
				return e, nil
			}
			if sep.kind != tokComma {
				return nil, fmt.Errorf("expected ',' or ')' in list, got %q", sep.text)
			}
		}
	}
	return nil, fmt.Errorf("expected comparison operator, got %q", t.text)
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return operand{literal: true, value: t.text}, nil
	case tokIdent:
		if t.text == "" {
			return operand{}, fmt.Errorf("expected field or literal at end of rule")
		}
		if name, ok := strings.CutPrefix(t.text, "alert."); ok {
			return operand{value: name, incoming: true}, nil
		}
		return operand{value: t.text}, nil
	default:
		return operand{}, fmt.Errorf("expected field or literal, got %q", t.text)
	}
}
