package checkout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/n9te9/kinabalu/subgraph"
)

// PricedProduct is what checkout needs to know about a product to bill it.
type PricedProduct struct {
	ID    int64
	Price float64
}

// ProductLookup fetches authoritative prices from the owner of products.
type ProductLookup interface {
	ProductsByIDs(ctx context.Context, ids []int64) ([]PricedProduct, error)
}

const productsByIDsQuery = `query($productIds: [ID!]) { productsByIds(productIds: $productIds) { id price } }`

// CatalogClient asks the catalog subgraph directly, without passing through the
// gateway. It sends no identity.
type CatalogClient struct {
	endpoint   string
	httpClient *http.Client
}

var _ ProductLookup = (*CatalogClient)(nil)

func NewCatalogClient(endpoint string, httpClient *http.Client) *CatalogClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CatalogClient{endpoint: endpoint, httpClient: httpClient}
}

type productsByIDsResponse struct {
	Data *struct {
		ProductsByIDs []struct {
			ID    string   `json:"id"`
			Price *float64 `json:"price"`
		} `json:"productsByIds"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ProductsByIDs looks up every id in one request. Ids the catalog does not know are
// missing from the result.
func (c *CatalogClient) ProductsByIDs(ctx context.Context, ids []int64) ([]PricedProduct, error) {
	vars := make([]string, len(ids))
	for i, id := range ids {
		vars[i] = subgraph.FormatID(id)
	}

	body, err := json.Marshal(subgraph.Request{
		Query:     productsByIDsQuery,
		Variables: map[string]any{"productIds": vars},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from catalog", resp.StatusCode)
	}

	var out productsByIDsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("catalog returned errors: %s", out.Errors[0].Message)
	}
	if out.Data == nil {
		return nil, errors.New("catalog returned no data")
	}

	products := make([]PricedProduct, 0, len(out.Data.ProductsByIDs))
	for _, p := range out.Data.ProductsByIDs {
		id, err := subgraph.ParseID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog returned %w", err)
		}
		if p.Price == nil {
			return nil, fmt.Errorf("catalog returned no price for product %d", id)
		}
		products = append(products, PricedProduct{ID: id, Price: *p.Price})
	}
	return products, nil
}
