package engine

import (
	"fmt"

	"github.com/stagecraft/stagecraft/model"
)

// validateParameters checks input against a property schema. Defaults fill
// absent values; a missing required value or a runtime type disagreeing
// with the declared one fails with a path-qualified message. Null values
// are accepted for any declared type. Validation stops at the first
// failure; the returned map is the normalized input.
func validateParameters(properties []model.Property, parameters map[string]any) (map[string]any, error) {
	return validateLevel(properties, parameters, "")
}

func validateLevel(properties []model.Property, parameters map[string]any, prefix string) (map[string]any, error) {
	if parameters == nil {
		parameters = make(map[string]any)
	}
	for _, field := range properties {
		value, present := parameters[field.Key]
		if !present {
			if field.Value.Default != nil {
				parameters[field.Key] = field.Value.Default
				continue
			}
			if field.Value.Required {
				return parameters, model.ValidationError{Message: qualify(prefix, fmt.Sprintf("[%s] must be present.", field.Key))}
			}
			continue
		}
		if value == nil {
			continue
		}
		actual := typeName(value)
		switch {
		case field.Value.Type == "object" && actual == "object":
			nested, ok := value.(map[string]any)
			if !ok {
				return parameters, model.ValidationError{Message: qualify(prefix, fmt.Sprintf("[%s] must be of type [object].", field.Key))}
			}
			normalized, err := validateLevel(field.Value.Properties, nested, qualify(prefix, "["+field.Key+"]"))
			if err != nil {
				return parameters, err
			}
			parameters[field.Key] = normalized
		case field.Value.Type == "array" && actual == "array":
			elements, _ := value.([]any)
			if field.Value.ArrayOf == "object" {
				for i, element := range elements {
					nested, ok := element.(map[string]any)
					if !ok {
						return parameters, model.ValidationError{Message: qualify(prefix, fmt.Sprintf("[%s] must be of an array of type [object].", field.Key))}
					}
					normalized, err := validateLevel(field.Value.Properties, nested, qualify(prefix, "["+field.Key+"]"))
					if err != nil {
						return parameters, err
					}
					elements[i] = normalized
				}
			} else if field.Value.ArrayOf != "" {
				for _, element := range elements {
					if element == nil {
						continue
					}
					if typeName(element) != field.Value.ArrayOf {
						return parameters, model.ValidationError{Message: qualify(prefix, fmt.Sprintf("[%s] must be of an array of type [%s].", field.Key, field.Value.ArrayOf))}
					}
				}
			}
		case field.Value.Type != actual:
			return parameters, model.ValidationError{Message: qualify(prefix, fmt.Sprintf("[%s] must be of type [%s].", field.Key, field.Value.Type))}
		}
	}
	return parameters, nil
}

func qualify(prefix, message string) string {
	if prefix == "" {
		return message
	}
	return prefix + "." + message
}

// typeName maps a runtime value to its schema type name.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
