package checkout

import (
	"context"

	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/subgraph"
)

// SDL is the slice of the graph checkout owns. Products are referenced, never owned.
const SDL = `type Order @key(fields: "id") {
  id: ID!
  cost: Float
  products: [Product]
}

extend type Product @key(fields: "id") {
  id: ID! @external
  orders: [Order]
}

type Query {
  order(id: ID!): Order
  orders: [Order]
}

type Mutation {
  placeOrder(productIds: [ID!]): Order
}
`

// NewSchema binds the checkout SDL to l.
func NewSchema(l *Linker) (*subgraph.Schema, error) {
	return subgraph.NewSchema(SDL, resolvers(l))
}

func resolvers(l *Linker) subgraph.Resolvers {
	order := func(ctx context.Context, id int64) (any, error) {
		o, err := l.GetOrder(ctx, auth.ClaimsFrom(ctx), id)
		if err != nil || o == nil {
			return nil, err
		}
		return o, nil
	}

	return subgraph.Resolvers{
		Fields: map[subgraph.Coordinate]subgraph.FieldFunc{
			{Type: "Query", Field: "order"}: func(ctx context.Context, _ any, args map[string]any) (any, error) {
				id, err := subgraph.IDArg(args, "id")
				if err != nil {
					return nil, err
				}
				return order(ctx, id)
			},
			{Type: "Query", Field: "orders"}: func(ctx context.Context, _ any, _ map[string]any) (any, error) {
				orders, err := l.ListOrders(ctx, auth.ClaimsFrom(ctx))
				return refs(orders), err
			},
			{Type: "Mutation", Field: "placeOrder"}: func(ctx context.Context, _ any, args map[string]any) (any, error) {
				ids, err := subgraph.IDListArg(args, "productIds")
				if err != nil {
					return nil, err
				}
				return l.PlaceOrder(ctx, auth.ClaimsFrom(ctx), ids)
			},
			{Type: "Order", Field: "id"}:   subgraph.Prop(func(o *Order) any { return subgraph.FormatID(o.ID) }),
			{Type: "Order", Field: "cost"}: subgraph.Prop(func(o *Order) any { return o.Cost }),
			{Type: "Order", Field: "products"}: func(ctx context.Context, parent any, _ map[string]any) (any, error) {
				o, _ := parent.(*Order)
				if o == nil {
					return []ProductRef{}, nil
				}
				return l.OrderProducts(auth.ClaimsFrom(ctx), o), nil
			},
			{Type: "Product", Field: "id"}: subgraph.Prop(func(p ProductRef) any { return subgraph.FormatID(p.ID) }),
			{Type: "Product", Field: "orders"}: func(ctx context.Context, parent any, _ map[string]any) (any, error) {
				p, ok := parent.(ProductRef)
				if !ok {
					return []*Order{}, nil
				}
				orders, err := l.ProductOrders(ctx, auth.ClaimsFrom(ctx), p.ID)
				return refs(orders), err
			},
		},
		Entities: map[string]subgraph.EntityFunc{
			"Order": func(ctx context.Context, rep map[string]any) (any, error) {
				id, err := subgraph.ParseID(rep["id"])
				if err != nil {
					return nil, err
				}
				return order(ctx, id)
			},
			// Products are stubs: the bare id is all checkout knows and all it needs.
			"Product": func(_ context.Context, rep map[string]any) (any, error) {
				id, err := subgraph.ParseID(rep["id"])
				if err != nil {
					return nil, err
				}
				return ProductRef{ID: id}, nil
			},
		},
	}
}

func refs(orders []Order) []*Order {
	out := make([]*Order, len(orders))
	for i := range orders {
		out[i] = &orders[i]
	}
	return out
}
