package accounts

import (
	"context"

	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/subgraph"
)

// SDL is the slice of the graph accounts owns.
const SDL = `type AuthResult {
  accessToken: String
}

type User @key(fields: "id") {
  id: ID!
  email: String
}

type Query {
  me: User
}

type Mutation {
  login(email: String!, password: String!): AuthResult
}
`

type authResult struct {
	AccessToken string
}

// NewSchema binds the accounts SDL to svc.
func NewSchema(svc *Service) (*subgraph.Schema, error) {
	return subgraph.NewSchema(SDL, resolvers(svc))
}

func resolvers(svc *Service) subgraph.Resolvers {
	// A user is only visible to itself.
	self := func(ctx context.Context, id int64) (any, error) {
		uid, ok := auth.ClaimsFrom(ctx).UserID()
		if !ok || uid != id {
			return nil, nil
		}
		u, err := svc.User(ctx, id)
		if err != nil || u == nil {
			return nil, err
		}
		return u, nil
	}

	return subgraph.Resolvers{
		Fields: map[subgraph.Coordinate]subgraph.FieldFunc{
			{Type: "Query", Field: "me"}: func(ctx context.Context, _ any, _ map[string]any) (any, error) {
				uid, ok := auth.ClaimsFrom(ctx).UserID()
				if !ok {
					return nil, nil
				}
				return self(ctx, uid)
			},
			{Type: "Mutation", Field: "login"}: func(ctx context.Context, _ any, args map[string]any) (any, error) {
				token, err := svc.Login(ctx, subgraph.StringArg(args, "email"), subgraph.StringArg(args, "password"))
				if err != nil {
					return nil, err
				}
				return &authResult{AccessToken: token}, nil
			},
			{Type: "AuthResult", Field: "accessToken"}: subgraph.Prop(func(r *authResult) any { return r.AccessToken }),
			{Type: "User", Field: "id"}:                subgraph.Prop(func(u *Credential) any { return subgraph.FormatID(u.ID) }),
			{Type: "User", Field: "email"}:             subgraph.Prop(func(u *Credential) any { return u.Email }),
		},
		Entities: map[string]subgraph.EntityFunc{
			"User": func(ctx context.Context, rep map[string]any) (any, error) {
				id, err := subgraph.ParseID(rep["id"])
				if err != nil {
					return nil, err
				}
				return self(ctx, id)
			},
		},
	}
}
