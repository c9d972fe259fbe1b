package refspec

import (
	"errors"
	"fmt"
	"strings"
)

// invalidRefSpecChars are meaningful to refspec syntax itself. Patterns that
// would render to a glob containing one of them are rejected outright rather
// than escaped, since an escaped form would fetch the wrong refs.
const invalidRefSpecChars = ":^?[]"

var (
	// ErrUnsupportedExpression marks a boolean shape that cannot be
	// expressed as positive globs plus negative globs.
	ErrUnsupportedExpression = errors.New("bookmark expression cannot be expressed as fetch refspecs")

	ErrInvalidBranchPattern = errors.New("invalid branch pattern")
)

// Expanded is the refspec form of a bookmark-selection expression, together
// with the expression itself so the post-fetch import can be filtered to
// exactly the bookmarks this fetch asked for.
type Expanded struct {
	Positive   []RefSpec
	Negative   []NegativeRefSpec
	Expression Expression
}

// ExpandFetch classifies the expression into positive and negative branch
// globs and renders them as fetch refspecs for the remote.
//
// Git refspecs can express `(a | b | ...)` and separately `^(c | d | ...)`,
// nothing else. The accepted shapes are a bare pattern, a union of
// positives, a negation of positives, and an intersection of one positive
// side with one negated side. Anything deeper is a structural error.
func ExpandFetch(remote string, expr Expression) (Expanded, error) {
	positives, negatives, err := classify(expr)
	if err != nil {
		return Expanded{}, err
	}
	out := Expanded{Expression: expr}
	for _, p := range positives {
		branchGlob, err := branchGlobText(p)
		if err != nil {
			return Expanded{}, err
		}
		out.Positive = append(out.Positive, ForcedBookmarkRefSpec(remote, branchGlob))
	}
	for _, p := range negatives {
		branchGlob, err := branchGlobText(p)
		if err != nil {
			return Expanded{}, err
		}
		out.Negative = append(out.Negative, NegativeBookmarkRefSpec(branchGlob))
	}
	return out, nil
}

func branchGlobText(p StringPattern) (string, error) {
	text := p.AsGlobText()
	if strings.ContainsAny(text, invalidRefSpecChars) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBranchPattern, p.String())
	}
	return text, nil
}

// classify splits the expression into patterns fetched and patterns
// excluded.
func classify(expr Expression) (positives, negatives []StringPattern, err error) {
	switch e := expr.(type) {
	case patternExpression:
		return []StringPattern{e.pattern}, nil, nil
	case unionExpression:
		for _, op := range e.operands {
			ps, err := positiveOnly(op)
			if err != nil {
				return nil, nil, err
			}
			positives = append(positives, ps...)
		}
		return positives, nil, nil
	case negationExpression:
		negatives, err := positiveOnly(e.operand)
		if err != nil {
			return nil, nil, err
		}
		matchAll, _ := GlobPattern("*")
		return []StringPattern{matchAll}, negatives, nil
	case intersectionExpression:
		pos, neg, ok := splitIntersection(e)
		if !ok {
			return nil, nil, fmt.Errorf("%w: intersection must combine a selection with an exclusion", ErrUnsupportedExpression)
		}
		positives, err = positiveOnly(pos)
		if err != nil {
			return nil, nil, err
		}
		negatives, err = positiveOnly(neg.operand)
		if err != nil {
			return nil, nil, err
		}
		return positives, negatives, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown expression %T", ErrUnsupportedExpression, expr)
}

// splitIntersection accepts an intersection when exactly one side is a
// negation.
func splitIntersection(e intersectionExpression) (Expression, negationExpression, bool) {
	leftNeg, leftIsNeg := e.left.(negationExpression)
	rightNeg, rightIsNeg := e.right.(negationExpression)
	switch {
	case leftIsNeg && !rightIsNeg:
		return e.right, leftNeg, true
	case rightIsNeg && !leftIsNeg:
		return e.left, rightNeg, true
	}
	return nil, negationExpression{}, false
}

// positiveOnly flattens an expression that must contain no negation or
// intersection: a pattern or a union of such expressions.
func positiveOnly(expr Expression) ([]StringPattern, error) {
	switch e := expr.(type) {
	case patternExpression:
		return []StringPattern{e.pattern}, nil
	case unionExpression:
		var out []StringPattern
		for _, op := range e.operands {
			ps, err := positiveOnly(op)
			if err != nil {
				return nil, err
			}
			out = append(out, ps...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedExpression, expr)
}
