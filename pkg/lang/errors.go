package lang

import "github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"

// ParseError carries the position/expected/found triple spec §4.1 mandates
// (surfaced verbatim, never retried).
type ParseError struct {
	Position Position
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return kgerrors.ErrParse.New(e.Position.String(), e.Expected, e.Found).Error()
}

func newParseError(pos Position, expected, found string) error {
	return &ParseError{Position: pos, Expected: expected, Found: found}
}
