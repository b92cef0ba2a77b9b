package subgraph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Coordinate names one field of one type, e.g. {"Query", "product"}.
type Coordinate struct {
	Type  string
	Field string
}

func (c Coordinate) String() string {
	return c.Type + "." + c.Field
}

// FieldFunc resolves one field. parent is the value the enclosing object resolved to,
// nil for root fields.
type FieldFunc func(ctx context.Context, parent any, args map[string]any) (any, error)

// EntityFunc resolves an entity from a representation sent by the gateway.
// Returning nil, nil resolves the entity to null.
type EntityFunc func(ctx context.Context, representation map[string]any) (any, error)

// Resolvers is the dispatch table of a subgraph. Every object field declared in the
// SDL needs an entry in Fields and every @key type an entry in Entities.
type Resolvers struct {
	Fields   map[Coordinate]FieldFunc
	Entities map[string]EntityFunc
}

// Typed tags a value returned for an interface or union field with its concrete type.
type Typed struct {
	Typename string
	Value    any
}

// Prop resolves a field by reading it from a parent of type T.
func Prop[T any](get func(T) any) FieldFunc {
	return func(_ context.Context, parent any, _ map[string]any) (any, error) {
		v, ok := parent.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected parent type %T", parent)
		}
		return get(v), nil
	}
}

// ParseID converts an ID value as it arrives in arguments or representations.
func ParseID(v any) (int64, error) {
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, NewError(CodeBadUserInput, fmt.Sprintf("invalid ID %q", id))
		}
		return n, nil
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, NewError(CodeBadUserInput, fmt.Sprintf("invalid ID %q", id.String()))
		}
		return n, nil
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case float64:
		if id != float64(int64(id)) {
			return 0, NewError(CodeBadUserInput, fmt.Sprintf("invalid ID %v", id))
		}
		return int64(id), nil
	}
	return 0, NewError(CodeBadUserInput, fmt.Sprintf("invalid ID %v", v))
}

// FormatID renders a numeric primary key as a GraphQL ID.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// IDArg reads a required ID argument.
func IDArg(args map[string]any, name string) (int64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, NewError(CodeBadUserInput, fmt.Sprintf("argument %s is required", name))
	}
	return ParseID(v)
}

// IDListArg reads a list of IDs. A missing or null argument yields an empty list.
func IDListArg(args map[string]any, name string) ([]int64, error) {
	raw, _ := args[name].([]any)
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := ParseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StringArg reads a string argument, "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}
