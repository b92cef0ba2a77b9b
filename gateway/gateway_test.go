package gateway_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/gateway"
	"github.com/n9te9/kinabalu/subgraph"
)

const shopCatalogSDL = `
type Product @key(fields: "id") {
  id: ID!
  name: String
}

type Query {
  products: [Product]
}
`

const shopCheckoutSDL = `
type Order @key(fields: "id") {
  id: ID!
  products: [Product]
}

extend type Product @key(fields: "id") {
  id: ID! @external
}

extend type Query {
  orders: [Order]
}
`

type product struct {
	ID   int64
	Name string
}

type order struct {
	ID       int64
	OwnerID  int64
	Products []int64
}

// headerLog remembers the headers checkout received.
type headerLog struct {
	mu      sync.Mutex
	headers []http.Header
}

func (l *headerLog) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		l.headers = append(l.headers, r.Header.Clone())
		l.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (l *headerLog) last() http.Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.headers) == 0 {
		return nil
	}
	return l.headers[len(l.headers)-1]
}

func newCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	products := map[int64]*product{1: {ID: 1, Name: "Pen"}, 2: {ID: 2, Name: "Ink"}}

	schema, err := subgraph.NewSchema(shopCatalogSDL, subgraph.Resolvers{
		Fields: map[subgraph.Coordinate]subgraph.FieldFunc{
			{Type: "Query", Field: "products"}: func(context.Context, any, map[string]any) (any, error) {
				return []*product{products[1], products[2]}, nil
			},
			{Type: "Product", Field: "id"}:   subgraph.Prop(func(p *product) any { return subgraph.FormatID(p.ID) }),
			{Type: "Product", Field: "name"}: subgraph.Prop(func(p *product) any { return p.Name }),
		},
		Entities: map[string]subgraph.EntityFunc{
			"Product": func(_ context.Context, rep map[string]any) (any, error) {
				id, err := subgraph.ParseID(rep["id"])
				if err != nil {
					return nil, err
				}
				if p, ok := products[id]; ok {
					return p, nil
				}
				return nil, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("catalog schema: %v", err)
	}

	srv := httptest.NewServer(subgraph.NewHandler(schema))
	t.Cleanup(srv.Close)
	return srv
}

func newCheckout(t *testing.T, log *headerLog) *httptest.Server {
	t.Helper()
	orders := []*order{
		{ID: 10, OwnerID: 7, Products: []int64{1, 2}},
		{ID: 11, OwnerID: 8, Products: []int64{2}},
	}
	type productRef struct{ ID int64 }

	schema, err := subgraph.NewSchema(shopCheckoutSDL, subgraph.Resolvers{
		Fields: map[subgraph.Coordinate]subgraph.FieldFunc{
			{Type: "Query", Field: "orders"}: func(ctx context.Context, _ any, _ map[string]any) (any, error) {
				out := []*order{}
				uid, ok := auth.ClaimsFrom(ctx).UserID()
				if !ok {
					return out, nil
				}
				for _, o := range orders {
					if o.OwnerID == uid {
						out = append(out, o)
					}
				}
				return out, nil
			},
			{Type: "Order", Field: "id"}: subgraph.Prop(func(o *order) any { return subgraph.FormatID(o.ID) }),
			{Type: "Order", Field: "products"}: subgraph.Prop(func(o *order) any {
				refs := make([]*productRef, 0, len(o.Products))
				for _, id := range o.Products {
					refs = append(refs, &productRef{ID: id})
				}
				return refs
			}),
			{Type: "Product", Field: "id"}: subgraph.Prop(func(p *productRef) any { return subgraph.FormatID(p.ID) }),
		},
		Entities: map[string]subgraph.EntityFunc{
			"Order":   func(context.Context, map[string]any) (any, error) { return nil, nil },
			"Product": func(context.Context, map[string]any) (any, error) { return nil, nil },
		},
	})
	if err != nil {
		t.Fatalf("checkout schema: %v", err)
	}

	srv := httptest.NewServer(log.wrap(subgraph.NewHandler(schema)))
	t.Cleanup(srv.Close)
	return srv
}

type shop struct {
	gateway *gateway.Gateway
	signer  *auth.Signer
	log     *headerLog
}

func newShop(t *testing.T) *shop {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := auth.NewSigner(key, auth.SignerSettings{KeyID: "test"})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	verifier, err := auth.NewVerifier(&key.PublicKey, auth.DefaultAudience, auth.DefaultIssuer)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	log := &headerLog{}
	catalog := newCatalog(t)
	checkout := newCheckout(t, log)

	gw, err := gateway.NewGateway(context.Background(), gateway.GatewayOption{
		Endpoint:                    "/graphql",
		EnableHangOverRequestHeader: true,
		EnableComplementRequestId:   true,
		Services: []gateway.GatewayService{
			{Name: "catalog", Host: catalog.URL},
			{Name: "checkout", Host: checkout.URL},
		},
		Retry: gateway.RetryOption{Attempts: 1, Timeout: "5s"},
	}, verifier)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	return &shop{gateway: gw, signer: signer, log: log}
}

func (s *shop) token(t *testing.T, subject string) string {
	t.Helper()
	token, err := s.signer.Sign(subject, subject+"@example.com", []string{"superuser", "cool"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return token
}

func (s *shop) post(t *testing.T, query string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"query": query})
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		req.Header[k] = vs
	}

	rec := httptest.NewRecorder()
	s.gateway.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func TestGateway_ServeHTTP_Identity(t *testing.T) {
	s := newShop(t)
	const query = `{ orders { id products { name } } }`

	ownOrders := map[string]any{
		"orders": []any{
			map[string]any{
				"id":       "10",
				"products": []any{map[string]any{"name": "Pen"}, map[string]any{"name": "Ink"}},
			},
		},
	}
	noOrders := map[string]any{"orders": []any{}}

	tests := []struct {
		name        string
		header      http.Header
		wantData    map[string]any
		wantSubject string // empty means anonymous
	}{
		{
			name:     "anonymous",
			header:   http.Header{},
			wantData: noOrders,
		},
		{
			name:        "valid bearer token",
			header:      http.Header{"Authorization": {"Bearer " + s.token(t, "7")}},
			wantData:    ownOrders,
			wantSubject: "7",
		},
		{
			name:     "invalid bearer token is anonymous",
			header:   http.Header{"Authorization": {"Bearer not-a-jwt"}},
			wantData: noOrders,
		},
		{
			name:     "missing scheme is anonymous",
			header:   http.Header{"Authorization": {s.token(t, "7")}},
			wantData: noOrders,
		},
		{
			name:     "client supplied propagation header is replaced",
			header:   http.Header{auth.PropagationHeader: {`{"sub":"7","email":"x@example.com"}`}},
			wantData: noOrders,
		},
		{
			name: "spoofing cannot override a verified identity",
			header: http.Header{
				"Authorization":        {"Bearer " + s.token(t, "8")},
				auth.PropagationHeader: {`{"sub":"7"}`},
			},
			wantData:    map[string]any{"orders": []any{map[string]any{"id": "11", "products": []any{map[string]any{"name": "Ink"}}}}},
			wantSubject: "8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := s.post(t, query, tt.header)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if diff := cmp.Diff(tt.wantData, out["data"]); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
			if errs, ok := out["errors"]; ok {
				t.Errorf("unexpected errors: %v", errs)
			}

			h := s.log.last()
			if h == nil {
				t.Fatal("checkout received no request")
			}
			if got := h.Get("Authorization"); got != "" {
				t.Errorf("Authorization leaked to subgraph: %q", got)
			}
			claims, state, err := auth.ParsePropagation(h)
			if err != nil {
				t.Fatalf("ParsePropagation: %v", err)
			}
			if tt.wantSubject == "" {
				if state != auth.HeaderAnonymous {
					t.Errorf("header state = %s, want anonymous", state)
				}
				return
			}
			if state != auth.HeaderPresent || claims.Subject != tt.wantSubject {
				t.Errorf("forwarded identity = %s %+v, want subject %s", state, claims, tt.wantSubject)
			}
		})
	}
}

func TestGateway_ServeHTTP_RequestID(t *testing.T) {
	s := newShop(t)

	t.Run("complemented when absent", func(t *testing.T) {
		rec, _ := s.post(t, `{ orders { id } }`, nil)
		id := s.log.last().Get(gateway.RequestIDHeader)
		if id == "" {
			t.Fatal("expected a request id to be forwarded")
		}
		if got := rec.Header().Get(gateway.RequestIDHeader); got != id {
			t.Errorf("response request id = %q, want %q", got, id)
		}
	})

	t.Run("kept when present", func(t *testing.T) {
		s.post(t, `{ orders { id } }`, http.Header{gateway.RequestIDHeader: {"req-42"}})
		if got := s.log.last().Get(gateway.RequestIDHeader); got != "req-42" {
			t.Errorf("forwarded request id = %q, want req-42", got)
		}
	})
}

func TestGateway_ServeHTTP_RequestErrors(t *testing.T) {
	s := newShop(t)

	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{name: "syntax error", query: `{ orders {`, wantCode: "GRAPHQL_PARSE_FAILED"},
		{name: "unknown field", query: `{ orders { total } }`, wantCode: "GRAPHQL_VALIDATION_FAILED"},
		{name: "missing variable", query: `query($skip: Boolean!) { orders @skip(if: $skip) { id } }`, wantCode: "BAD_USER_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out := s.post(t, tt.query, nil)
			errs, ok := out["errors"].([]any)
			if !ok || len(errs) == 0 {
				t.Fatalf("expected errors, got %v", out)
			}
			first := errs[0].(map[string]any)
			ext, _ := first["extensions"].(map[string]any)
			if got := ext["code"]; got != tt.wantCode {
				t.Errorf("code = %v, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestGateway_ServeHTTP_RejectsNonPost(t *testing.T) {
	s := newShop(t)
	rec := httptest.NewRecorder()
	s.gateway.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestGateway_Reload(t *testing.T) {
	s := newShop(t)
	if err := s.gateway.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	_, out := s.post(t, `{ products { name } }`, nil)
	want := map[string]any{"products": []any{map[string]any{"name": "Pen"}, map[string]any{"name": "Ink"}}}
	if diff := cmp.Diff(want, out["data"]); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}
