package graph_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/kinabalu/federation/graph"
)

const catalogSDL = `
type Product @key(fields: "id") {
  id: ID!
  name: String
  price: Float
  internalCode: String @inaccessible
}

type Query {
  product(id: ID!): Product
  products: [Product]
}
`

const checkoutSDL = `
type Order @key(fields: "id") {
  id: ID!
  cost: Float!
  products: [Product]
}

extend type Product @key(fields: "id") {
  id: ID! @external
  orders: [Order]
}

extend type Query {
  order(id: ID!): Order
  orders: [Order]
}

type Mutation {
  placeOrder(productIds: [ID!]!): Order
}
`

func mustSubGraph(t *testing.T, name, sdl string) *graph.SubGraph {
	t.Helper()
	sg, err := graph.NewSubGraph(name, []byte(sdl), "http://"+name+".example.com/query")
	if err != nil {
		t.Fatalf("NewSubGraph %s: %v", name, err)
	}
	return sg
}

func names(subGraphs []*graph.SubGraph) []string {
	out := []string{}
	for _, sg := range subGraphs {
		out = append(out, sg.Name)
	}
	return out
}

func TestNewSubGraph(t *testing.T) {
	sg := mustSubGraph(t, "checkout", checkoutSDL)

	product, ok := sg.GetEntity("Product")
	if !ok {
		t.Fatal("expected Product to be an entity")
	}
	if !product.IsExtension {
		t.Error("expected Product to be an extension in checkout")
	}
	if diff := cmp.Diff([]string{"id"}, sg.KeyFields("Product")); diff != "" {
		t.Errorf("key fields mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		typeName, fieldName string
		want                bool
	}{
		{"Product", "id", true},
		{"Product", "orders", true},
		{"Product", "name", false},
		{"Order", "cost", true},
		{"Query", "orders", true},
	}
	for _, tt := range tests {
		if got := sg.CanResolve(tt.typeName, tt.fieldName); got != tt.want {
			t.Errorf("CanResolve(%s.%s) = %v, want %v", tt.typeName, tt.fieldName, got, tt.want)
		}
	}
}

func TestNewSubGraph_CompositeKey(t *testing.T) {
	sg := mustSubGraph(t, "inventory", `
type Stock @key(fields: "sku warehouse { id }") @key(fields: "upc", resolvable: false) {
  sku: String!
  upc: String!
  warehouse: Warehouse!
}
type Warehouse { id: ID! }
type Query { stock: [Stock] }
`)

	e, ok := sg.GetEntity("Stock")
	if !ok {
		t.Fatal("expected Stock to be an entity")
	}
	want := []graph.EntityKey{
		{FieldSet: "sku warehouse { id }", Fields: []string{"sku", "warehouse"}, Resolvable: true},
		{FieldSet: "upc", Fields: []string{"upc"}, Resolvable: false},
	}
	if diff := cmp.Diff(want, e.Keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestNewSuperGraph(t *testing.T) {
	catalog := mustSubGraph(t, "catalog", catalogSDL)
	checkout := mustSubGraph(t, "checkout", checkoutSDL)

	superGraph, err := graph.NewSuperGraph([]*graph.SubGraph{catalog, checkout})
	if err != nil {
		t.Fatalf("NewSuperGraph: %v", err)
	}

	ownership := []struct {
		typeName, fieldName string
		want                []string
	}{
		{"Query", "product", []string{"catalog"}},
		{"Query", "orders", []string{"checkout"}},
		{"Mutation", "placeOrder", []string{"checkout"}},
		{"Product", "id", []string{"catalog", "checkout"}},
		{"Product", "name", []string{"catalog"}},
		{"Product", "orders", []string{"checkout"}},
		{"Order", "products", []string{"checkout"}},
	}
	for _, tt := range ownership {
		got := names(superGraph.GetSubGraphsForField(tt.typeName, tt.fieldName))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("owners of %s.%s mismatch (-want +got):\n%s", tt.typeName, tt.fieldName, diff)
		}
	}

	if owner := superGraph.GetEntityOwnerSubGraph("Product"); owner == nil || owner.Name != "catalog" {
		t.Errorf("entity owner of Product = %v, want catalog", owner)
	}

	product := superGraph.Schema.Types["Product"]
	if product == nil {
		t.Fatal("expected Product in composed schema")
	}
	var fields []string
	for _, f := range product.Fields {
		fields = append(fields, f.Name)
	}
	if diff := cmp.Diff([]string{"id", "name", "price", "orders"}, fields); diff != "" {
		t.Errorf("Product fields mismatch (-want +got):\n%s", diff)
	}
	if superGraph.Schema.Mutation == nil || superGraph.Schema.Mutation.Fields.ForName("placeOrder") == nil {
		t.Error("expected Mutation.placeOrder in composed schema")
	}
	if _, ok := superGraph.Schema.Types["_Entity"]; ok {
		t.Error("federation types must not leak into the composed schema")
	}
}

func TestNewSuperGraph_Conflicts(t *testing.T) {
	tests := []struct {
		name    string
		other   string
		wantErr string
	}{
		{
			name: "non shareable field defined twice",
			other: `
extend type Product @key(fields: "id") {
  id: ID! @external
  name: String
}`,
			wantErr: "Product.name",
		},
		{
			name: "type mismatch",
			other: `
extend type Product @key(fields: "id") {
  id: ID! @external
  price: Int
}`,
			wantErr: "Product.price",
		},
		{
			name:    "kind mismatch",
			other:   `enum Product { A B }`,
			wantErr: "type Product",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graph.NewSuperGraph([]*graph.SubGraph{
				mustSubGraph(t, "catalog", catalogSDL),
				mustSubGraph(t, "other", tt.other),
			})
			if err == nil {
				t.Fatal("expected composition error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewSuperGraph_Shareable(t *testing.T) {
	_, err := graph.NewSuperGraph([]*graph.SubGraph{
		mustSubGraph(t, "a", `type Money @shareable { amount: Float } type Query { a: Money }`),
		mustSubGraph(t, "b", `type Money @shareable { amount: Float } extend type Query { b: Money }`),
	})
	if err != nil {
		t.Fatalf("NewSuperGraph: %v", err)
	}
}

func TestNewSuperGraph_Empty(t *testing.T) {
	if _, err := graph.NewSuperGraph(nil); err == nil {
		t.Fatal("expected error for no subgraphs")
	}
}
