package catalog

import (
	"context"

	"github.com/n9te9/kinabalu/subgraph"
)

// SDL is the slice of the graph the catalog owns.
const SDL = `type Product @key(fields: "id") {
  id: ID!
  name: String
  price: Float
}

type Query {
  product(id: ID!): Product
  products: [Product]
  productsByIds(productIds: [ID!]): [Product]
}
`

// NewSchema binds the catalog SDL to svc.
func NewSchema(svc *Service) (*subgraph.Schema, error) {
	return subgraph.NewSchema(SDL, resolvers(svc))
}

func resolvers(svc *Service) subgraph.Resolvers {
	byID := func(ctx context.Context, id int64) (any, error) {
		p, err := svc.Product(ctx, id)
		if err != nil || p == nil {
			return nil, err
		}
		return p, nil
	}

	return subgraph.Resolvers{
		Fields: map[subgraph.Coordinate]subgraph.FieldFunc{
			{Type: "Query", Field: "product"}: func(ctx context.Context, _ any, args map[string]any) (any, error) {
				id, err := subgraph.IDArg(args, "id")
				if err != nil {
					return nil, err
				}
				return byID(ctx, id)
			},
			{Type: "Query", Field: "products"}: func(ctx context.Context, _ any, _ map[string]any) (any, error) {
				products, err := svc.Products(ctx)
				return refs(products), err
			},
			{Type: "Query", Field: "productsByIds"}: func(ctx context.Context, _ any, args map[string]any) (any, error) {
				ids, err := subgraph.IDListArg(args, "productIds")
				if err != nil {
					return nil, err
				}
				products, err := svc.ProductsByIDs(ctx, ids)
				return refs(products), err
			},
			{Type: "Product", Field: "id"}:    subgraph.Prop(func(p *Product) any { return subgraph.FormatID(p.ID) }),
			{Type: "Product", Field: "name"}:  subgraph.Prop(func(p *Product) any { return p.Name }),
			{Type: "Product", Field: "price"}: subgraph.Prop(func(p *Product) any { return p.Price }),
		},
		Entities: map[string]subgraph.EntityFunc{
			"Product": func(ctx context.Context, rep map[string]any) (any, error) {
				id, err := subgraph.ParseID(rep["id"])
				if err != nil {
					return nil, err
				}
				return byID(ctx, id)
			},
		},
	}
}

func refs(products []Product) []*Product {
	out := make([]*Product, len(products))
	for i := range products {
		out[i] = &products[i]
	}
	return out
}
