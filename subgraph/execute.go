package subgraph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// Request is a GraphQL request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response body.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors,omitempty"`
}

// Execute runs one operation against the schema. The document is checked first so
// request errors carry a code, then graphql-go executes it.
func (s *Schema) Execute(ctx context.Context, req Request) *Response {
	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return &Response{Errors: gqlerror.List{withCode(gqlerror.WrapIfUnwrapped(err), CodeParseFailed)}}
	}

	if errs := validator.ValidateWithRules(s.schema, doc, nil); len(errs) > 0 {
		for _, e := range errs {
			withCode(e, CodeValidationFailed)
		}
		return &Response{Errors: errs}
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return &Response{Errors: gqlerror.List{withCode(gqlerror.WrapIfUnwrapped(err), CodeValidationFailed)}}
	}
	if op.Operation != ast.Query && op.Operation != ast.Mutation {
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("%s operations are not supported", op.Operation)}}
	}

	if _, err := validator.VariableValues(s.schema, op, req.Variables); err != nil {
		return &Response{Errors: gqlerror.List{withCode(gqlerror.WrapIfUnwrapped(err), CodeBadUserInput)}}
	}

	sink := &errorSink{}
	result := graphql.Do(graphql.Params{
		Schema:         s.exec,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  op.Name,
		Context:        withSink(ctx, sink),
	})

	data, _ := result.Data.(map[string]any)
	errs := append(convertErrors(result.Errors), sink.errs...)
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Path.String() < errs[j].Path.String()
	})
	if len(errs) == 0 {
		errs = nil
	}
	return &Response{Data: data, Errors: errs}
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, fmt.Errorf("unknown operation %q", name)
		}
		return op, nil
	}
	if len(doc.Operations) != 1 {
		return nil, errors.New("operationName is required when the document has several operations")
	}
	return doc.Operations[0], nil
}

// convertErrors maps graphql-go errors onto the gqlparser error type the rest of the
// module speaks. Locations are dropped.
func convertErrors(in []gqlerrors.FormattedError) gqlerror.List {
	out := make(gqlerror.List, 0, len(in))
	for _, e := range in {
		out = append(out, &gqlerror.Error{
			Err:        e.OriginalError(),
			Message:    e.Message,
			Path:       toPath(e.Path),
			Extensions: e.Extensions,
		})
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
