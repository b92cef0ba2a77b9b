package subgraph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/graphql-go/graphql"
	gqlast "github.com/graphql-go/graphql/language/ast"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

var builtinScalars = map[string]*graphql.Scalar{
	"String":  graphql.String,
	"Int":     graphql.Int,
	"Float":   graphql.Float,
	"Boolean": graphql.Boolean,
	"ID":      graphql.ID,
}

// typeBuilder turns the validated SDL into an executable graphql-go schema whose
// resolvers dispatch through the resolver table.
type typeBuilder struct {
	s     *Schema
	types map[string]graphql.Type
}

func (s *Schema) buildExecutable() (graphql.Schema, error) {
	b := &typeBuilder{s: s, types: map[string]graphql.Type{}}

	cfg := graphql.SchemaConfig{}
	query, ok := b.named(s.schema.Query.Name).(*graphql.Object)
	if !ok {
		return graphql.Schema{}, fmt.Errorf("query type %s is not an object", s.schema.Query.Name)
	}
	cfg.Query = query
	if s.schema.Mutation != nil {
		mutation, ok := b.named(s.schema.Mutation.Name).(*graphql.Object)
		if !ok {
			return graphql.Schema{}, fmt.Errorf("mutation type %s is not an object", s.schema.Mutation.Name)
		}
		cfg.Mutation = mutation
	}
	for _, name := range s.entityTypes {
		cfg.Types = append(cfg.Types, b.named(name))
	}

	schema, err := graphql.NewSchema(cfg)
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("build executable schema: %w", err)
	}
	return schema, nil
}

// named returns the graphql-go type for a schema type, building it on first use.
// Object and interface fields are thunks so types may refer to each other.
func (b *typeBuilder) named(name string) graphql.Type {
	if t, ok := b.types[name]; ok {
		return t
	}
	if scalar, ok := builtinScalars[name]; ok {
		b.types[name] = scalar
		return scalar
	}

	def := b.s.schema.Types[name]
	var t graphql.Type
	switch def.Kind {
	case ast.Scalar:
		t = graphql.NewScalar(graphql.ScalarConfig{
			Name:         def.Name,
			Serialize:    func(v any) any { return v },
			ParseValue:   func(v any) any { return v },
			ParseLiteral: literalValue,
		})
	case ast.Enum:
		values := graphql.EnumValueConfigMap{}
		for _, v := range def.EnumValues {
			values[v.Name] = &graphql.EnumValueConfig{Value: v.Name}
		}
		t = graphql.NewEnum(graphql.EnumConfig{Name: def.Name, Values: values})
	case ast.InputObject:
		t = graphql.NewInputObject(graphql.InputObjectConfig{
			Name: def.Name,
			Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
				fields := graphql.InputObjectConfigFieldMap{}
				for _, f := range def.Fields {
					fields[f.Name] = &graphql.InputObjectFieldConfig{
						Type:         b.input(f.Type),
						DefaultValue: defaultValue(f.DefaultValue),
					}
				}
				return fields
			}),
		})
	case ast.Object:
		t = graphql.NewObject(graphql.ObjectConfig{
			Name: def.Name,
			Interfaces: graphql.InterfacesThunk(func() []*graphql.Interface {
				var ifaces []*graphql.Interface
				for _, name := range def.Interfaces {
					if iface, ok := b.named(name).(*graphql.Interface); ok {
						ifaces = append(ifaces, iface)
					}
				}
				return ifaces
			}),
			Fields: b.fields(def),
		})
	case ast.Interface:
		t = graphql.NewInterface(graphql.InterfaceConfig{
			Name:        def.Name,
			Fields:      b.fields(def),
			ResolveType: b.resolveType,
		})
	case ast.Union:
		t = graphql.NewUnion(graphql.UnionConfig{
			Name: def.Name,
			Types: graphql.UnionTypesThunk(func() []*graphql.Object {
				var objs []*graphql.Object
				for _, name := range def.Types {
					if obj, ok := b.named(name).(*graphql.Object); ok {
						objs = append(objs, obj)
					}
				}
				return objs
			}),
			ResolveType: b.resolveType,
		})
	}
	b.types[name] = t
	return t
}

func (b *typeBuilder) fields(def *ast.Definition) graphql.FieldsThunk {
	return func() graphql.Fields {
		fields := graphql.Fields{}
		for _, f := range def.Fields {
			// Introspection fields are served by graphql-go itself.
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			args := graphql.FieldConfigArgument{}
			for _, a := range f.Arguments {
				args[a.Name] = &graphql.ArgumentConfig{
					Type:         b.input(a.Type),
					DefaultValue: defaultValue(a.DefaultValue),
				}
			}
			fields[f.Name] = &graphql.Field{
				Name:    f.Name,
				Type:    b.output(f.Type),
				Args:    args,
				Resolve: b.resolver(def, f),
			}
		}
		return fields
	}
}

func (b *typeBuilder) output(t *ast.Type) graphql.Output {
	var out graphql.Output
	if t.Elem != nil {
		out = graphql.NewList(b.output(t.Elem))
	} else {
		out = b.named(t.NamedType)
	}
	if t.NonNull {
		return graphql.NewNonNull(out)
	}
	return out
}

func (b *typeBuilder) input(t *ast.Type) graphql.Input {
	var in graphql.Input
	if t.Elem != nil {
		in = graphql.NewList(b.input(t.Elem))
	} else {
		in = b.named(t.NamedType)
	}
	if t.NonNull {
		return graphql.NewNonNull(in)
	}
	return in
}

// resolveType picks the concrete object of a value returned for an abstract field.
// Such values are tagged with Typed.
func (b *typeBuilder) resolveType(p graphql.ResolveTypeParams) *graphql.Object {
	typed, ok := p.Value.(Typed)
	if !ok {
		return nil
	}
	obj, _ := b.named(typed.Typename).(*graphql.Object)
	return obj
}

func (b *typeBuilder) resolver(def *ast.Definition, f *ast.FieldDefinition) graphql.FieldResolveFn {
	coord := Coordinate{Type: def.Name, Field: f.Name}
	root := def == b.s.schema.Query || def == b.s.schema.Mutation

	if def == b.s.schema.Query && f.Name == "_entities" {
		return b.s.resolveEntities
	}

	fn := b.s.fields[coord]
	return func(p graphql.ResolveParams) (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, public(p.Context, coord, p.Info.Path.AsArray(), fmt.Errorf("resolver panic: %v", r))
			}
		}()

		var parent any
		if !root {
			parent = p.Source
			if typed, ok := parent.(Typed); ok {
				parent = typed.Value
			}
		}

		v, err = fn(p.Context, parent, p.Args)
		if err != nil {
			return nil, public(p.Context, coord, p.Info.Path.AsArray(), err)
		}
		if typed, ok := v.(Typed); ok && isNil(typed.Value) {
			return nil, nil
		}
		return v, nil
	}
}

// resolveEntities answers _entities. A representation that cannot be resolved reads
// as null and its error is reported against its own index.
func (s *Schema) resolveEntities(p graphql.ResolveParams) (any, error) {
	reps, _ := p.Args["representations"].([]any)
	out := make([]any, len(reps))
	sink := sinkFrom(p.Context)
	base := p.Info.Path.AsArray()

	for i, raw := range reps {
		path := append(append([]any(nil), base...), i)
		rep, ok := raw.(map[string]any)
		if !ok {
			sink.add(path, NewError(CodeBadUserInput, "representation must be an object"))
			continue
		}
		typename, _ := rep["__typename"].(string)
		fn := s.entities[typename]
		if fn == nil {
			sink.add(path, NewError(CodeBadUserInput, fmt.Sprintf("unknown entity type %q", typename)))
			continue
		}

		v, err := fn(p.Context, rep)
		if err != nil {
			sink.add(path, public(p.Context, Coordinate{Type: typename, Field: "_entities"}, path, err))
			continue
		}
		if !isNil(v) {
			out[i] = Typed{Typename: typename, Value: v}
		}
	}
	return out, nil
}

// literalValue reads an inline literal of a custom scalar such as _Any.
func literalValue(v gqlast.Value) any {
	switch v := v.(type) {
	case *gqlast.StringValue:
		return v.Value
	case *gqlast.EnumValue:
		return v.Value
	case *gqlast.BooleanValue:
		return v.Value
	case *gqlast.IntValue:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case *gqlast.FloatValue:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return f
	case *gqlast.ListValue:
		out := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, literalValue(item))
		}
		return out
	case *gqlast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name.Value] = literalValue(f.Value)
		}
		return out
	}
	return nil
}

func defaultValue(v *ast.Value) any {
	if v == nil {
		return nil
	}
	out, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return out
}

// errorSink collects errors raised outside graphql-go's own field error handling.
type errorSink struct {
	mu   sync.Mutex
	errs gqlerror.List
}

type sinkKey struct{}

func withSink(ctx context.Context, sink *errorSink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

func sinkFrom(ctx context.Context) *errorSink {
	if sink, ok := ctx.Value(sinkKey{}).(*errorSink); ok {
		return sink
	}
	return &errorSink{}
}

func (s *errorSink) add(path []any, err *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, &gqlerror.Error{
		Err:        err,
		Message:    err.Message,
		Path:       toPath(path),
		Extensions: err.Extensions(),
	})
}

func toPath(raw []any) ast.Path {
	if len(raw) == 0 {
		return nil
	}
	path := make(ast.Path, 0, len(raw))
	for _, el := range raw {
		switch el := el.(type) {
		case string:
			path = append(path, ast.PathName(el))
		case int:
			path = append(path, ast.PathIndex(el))
		}
	}
	return path
}
