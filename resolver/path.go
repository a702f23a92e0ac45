package resolver

import (
	"strings"

	"github.com/stagecraft/stagecraft/model"
)

// Path is a parsed value reference of the form
//
//	$[ (definitionKey) . <stageKey> . field.path ]
//
// The parenthesized segment retargets resolution to another instance in the
// same tree, the angle-bracket segment selects a stage through the stage
// index, and the remaining segments walk plain fields. Both prefixes are
// optional.
type Path struct {
	Remote string
	Stage  string
	Fields []string
}

// IsReference reports whether raw is a $[...] value reference. Anything
// else is a literal.
func IsReference(raw any) (string, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "$[") || !strings.HasSuffix(trimmed, "]") {
		return "", false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-1]), true
}

// ParsePath splits a reference body into its typed segments.
func ParsePath(body string) (*Path, error) {
	if body == "" {
		return nil, model.ExpressionError{Message: "empty value reference"}
	}
	p := &Path{}
	for i, segment := range strings.Split(body, ".") {
		segment = strings.TrimSpace(segment)
		switch {
		case strings.HasPrefix(segment, "(") && strings.HasSuffix(segment, ")"):
			if i != 0 || p.Remote != "" {
				return nil, model.ExpressionError{Message: "definition segment must lead the path: " + body}
			}
			p.Remote = strings.TrimSpace(segment[1 : len(segment)-1])
		case strings.HasPrefix(segment, "<") && strings.HasSuffix(segment, ">"):
			if p.Stage != "" || len(p.Fields) > 0 {
				return nil, model.ExpressionError{Message: "stage segment must precede field segments: " + body}
			}
			p.Stage = strings.TrimSpace(segment[1 : len(segment)-1])
		case segment == "":
			return nil, model.ExpressionError{Message: "empty segment in value reference: " + body}
		default:
			p.Fields = append(p.Fields, segment)
		}
	}
	return p, nil
}
