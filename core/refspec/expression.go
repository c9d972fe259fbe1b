package refspec

import "strings"

// Expression is a boolean tree selecting bookmark names: a pattern, a union,
// an intersection, or a negation.
type Expression interface {
	// Matches evaluates the expression against a bookmark name.
	Matches(name string) bool

	String() string
}

type patternExpression struct {
	pattern StringPattern
}

type unionExpression struct {
	operands []Expression
}

type intersectionExpression struct {
	left  Expression
	right Expression
}

type negationExpression struct {
	operand Expression
}

// Pattern lifts a string pattern into an expression.
func Pattern(p StringPattern) Expression {
	return patternExpression{pattern: p}
}

// Union matches names matched by any operand. An empty union matches
// nothing.
func Union(operands ...Expression) Expression {
	return unionExpression{operands: operands}
}

// Intersection matches names matched by both sides.
func Intersection(left, right Expression) Expression {
	return intersectionExpression{left: left, right: right}
}

// Not matches names the operand does not match.
func Not(operand Expression) Expression {
	return negationExpression{operand: operand}
}

func (e patternExpression) Matches(name string) bool {
	return e.pattern.Matches(name)
}

func (e patternExpression) String() string {
	return e.pattern.String()
}

func (e unionExpression) Matches(name string) bool {
	for _, op := range e.operands {
		if op.Matches(name) {
			return true
		}
	}
	return false
}

func (e unionExpression) String() string {
	parts := make([]string, len(e.operands))
	for i, op := range e.operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func (e intersectionExpression) Matches(name string) bool {
	return e.left.Matches(name) && e.right.Matches(name)
}

func (e intersectionExpression) String() string {
	return "(" + e.left.String() + " & " + e.right.String() + ")"
}

func (e negationExpression) Matches(name string) bool {
	return !e.operand.Matches(name)
}

func (e negationExpression) String() string {
	return "~" + e.operand.String()
}
