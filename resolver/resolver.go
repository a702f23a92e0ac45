package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/util"
	"go.uber.org/zap"
)

// InstanceLocator finds the most recent instance of a definition within an
// instance tree. The resolver uses it to retarget cross-instance references.
type InstanceLocator interface {
	LatestByRootAndKey(ctx context.Context, rootId string, definitionKey string) (*model.ProcessInstance, error)
}

type Resolver struct {
	locator InstanceLocator
}

func NewResolver(locator InstanceLocator) *Resolver {
	return &Resolver{locator: locator}
}

var tokenRegex = regexp.MustCompile(`\$\[[^\[\]]+\]`)

// Resolve evaluates raw against the instance. Non-reference values pass
// through untouched with ok=true. A reference that cannot be followed
// returns the original raw value with ok=false; it never raises. A remote
// segment naming a definition with no instance in the tree fails open to an
// empty object.
func (r *Resolver) Resolve(ctx context.Context, instance *model.ProcessInstance, raw any) (any, bool) {
	body, isRef := IsReference(raw)
	if !isRef {
		return raw, true
	}
	path, err := ParsePath(body)
	if err != nil {
		logger.Debug("unparseable value reference", zap.Any("raw", raw), zap.Error(err))
		return raw, false
	}
	target := instance
	if path.Remote != "" && path.Remote != instance.ProcessDefinitionKey {
		remote, err := r.locator.LatestByRootAndKey(ctx, instance.RootProcessInstanceID, path.Remote)
		if err != nil {
			var nfe model.NotFoundError
			if errors.As(err, &nfe) {
				return map[string]any{}, true
			}
			logger.Warn("instance tree lookup failed", zap.String("definitionKey", path.Remote), zap.Error(err))
			return raw, false
		}
		target = remote
	}
	doc, err := util.ToMap(target)
	if err != nil {
		return raw, false
	}
	if path.Stage != "" {
		idx, ok := target.StageIndex[path.Stage]
		if !ok || idx < 0 || idx >= len(target.Stages) {
			return raw, false
		}
		doc, err = util.ToMap(target.Stages[idx])
		if err != nil {
			return raw, false
		}
	}
	if len(path.Fields) == 0 {
		return doc, true
	}
	value, err := jsonpath.JsonPathLookup(doc, "$."+strings.Join(path.Fields, "."))
	if err != nil {
		return raw, false
	}
	return value, true
}

// ResolveTokens walks value and substitutes every $[...] reference in it.
// A string that is exactly one reference is replaced by the resolved value
// whatever its type; references embedded in a longer string are spliced in
// as text. Maps and slices are rebuilt, never mutated in place.
func (r *Resolver) ResolveTokens(ctx context.Context, instance *model.ProcessInstance, value any) any {
	switch v := value.(type) {
	case string:
		if _, isRef := IsReference(v); isRef {
			resolved, _ := r.Resolve(ctx, instance, v)
			return resolved
		}
		return tokenRegex.ReplaceAllStringFunc(v, func(token string) string {
			resolved, ok := r.Resolve(ctx, instance, token)
			if !ok {
				return token
			}
			return fmt.Sprint(resolved)
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			out[key] = r.ResolveTokens(ctx, instance, elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = r.ResolveTokens(ctx, instance, elem)
		}
		return out
	default:
		return value
	}
}
