package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
)

// feedProduct mirrors one product record in the catalog platform's feed.
type feedProduct struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Vendor      string  `json:"vendor"`
	ProductType string  `json:"product_type"`
	SKU         string  `json:"sku"`
	Price       string  `json:"price"`
	MAPPrice    *string `json:"map_price,omitempty"`
}

// Client reads the merchant's product-and-price feed. The feed is consumed
// read-only; this subsystem never writes back to the catalog platform.
type Client struct {
	httpClient *http.Client
	feedURL    string
	apiKey     string
	logger     *logrus.Logger
}

// NewClient creates a new catalog feed client.
func NewClient(feedURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		feedURL:    feedURL,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// FetchProducts retrieves the full product feed. Records with unparseable
// prices are kept but logged; the normalizer marks them non-matchable
// downstream.
func (c *Client) FetchProducts(ctx context.Context) ([]*domain.CatalogProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog feed status %d: %s", resp.StatusCode, string(body))
	}

	var feed struct {
		Products []feedProduct `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode catalog feed: %w", err)
	}

	products := make([]*domain.CatalogProduct, 0, len(feed.Products))
	for _, fp := range feed.Products {
		price, err := decimal.NewFromString(fp.Price)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"external_id": fp.ID, "price": fp.Price}).
				Warn("catalog product has unparseable price")
			price = decimal.Zero
		}

		product := &domain.CatalogProduct{
			ExternalID:  fp.ID,
			Title:       fp.Title,
			Vendor:      fp.Vendor,
			ProductType: fp.ProductType,
			SKU:         fp.SKU,
			Price:       price,
		}
		if fp.MAPPrice != nil {
			if mapPrice, err := decimal.NewFromString(*fp.MAPPrice); err == nil {
				product.MAPPrice = &mapPrice
			}
		}
		products = append(products, product)
	}

	c.logger.WithField("count", len(products)).Info("catalog feed fetched")
	return products, nil
}
