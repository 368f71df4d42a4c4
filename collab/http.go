/*
Package collab adapts the engine's collaborator interfaces to the outside
world.

PURPOSE:
  The inventory engine only knows the Documents, Notifier and Catalog
  interfaces. This package provides two implementations of them:
    HTTPClient: the document / notification / item service of the ERP,
                reached over REST with resty
    Local:      documents recorded in the engine's own repository and
                notifications written to the log, for standalone runs

ENDPOINTS (HTTPClient):
  POST /custody-transfers  -> {"id": "..."}
  POST /shipments          -> {"id": "..."}
  POST /notifications      -> 2xx
  GET  /items/{id}         -> {"id", "name", "uom"}

SEE ALSO:
  - inventory/collaborators.go: Interface definitions
  - cmd/server/main.go: Picks HTTPClient when COLLAB_BASE_URL is set
*/
package collab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/warp/bin-ledger/inventory"
)

// HTTPConfig configures the remote collaborator client.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPClient is a resty-backed implementation of inventory.Documents,
// inventory.Notifier and inventory.Catalog.
type HTTPClient struct {
	httpClient *resty.Client

	mu    sync.RWMutex
	items map[inventory.ItemID]itemResponse
}

var (
	_ inventory.Documents = (*HTTPClient)(nil)
	_ inventory.Notifier  = (*HTTPClient)(nil)
	_ inventory.Catalog   = (*HTTPClient)(nil)
)

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &HTTPClient{
		httpClient: restyClient,
		items:      make(map[inventory.ItemID]itemResponse),
	}
}

type createdResponse struct {
	ID string `json:"id"`
}

type itemResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	UOM  string `json:"uom"`
}

// apiError is the error payload of the collaborator service.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) CreateCustodyTransfer(ctx context.Context, t inventory.CustodyTransfer) (string, error) {
	return c.create(ctx, "/custody-transfers", t)
}

func (c *HTTPClient) CreateShipment(ctx context.Context, s inventory.Shipment) (string, error) {
	return c.create(ctx, "/shipments", s)
}

func (c *HTTPClient) create(ctx context.Context, path string, body any) (string, error) {
	result := new(createdResponse)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(apiErr).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return "", responseError(path, resp.StatusCode(), apiErr)
	}
	if result.ID == "" {
		return "", fmt.Errorf("post %s: response carries no id", path)
	}
	return result.ID, nil
}

func (c *HTTPClient) Notify(ctx context.Context, n inventory.Notification) error {
	apiErr := new(apiError)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(n).
		SetError(apiErr).
		Post("/notifications")
	if err != nil {
		return fmt.Errorf("post /notifications: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return responseError("/notifications", resp.StatusCode(), apiErr)
	}
	return nil
}

func (c *HTTPClient) UOM(ctx context.Context, item inventory.ItemID) (string, error) {
	it, err := c.item(ctx, item)
	if err != nil {
		return "", err
	}
	return it.UOM, nil
}

func (c *HTTPClient) ItemName(ctx context.Context, item inventory.ItemID) (string, error) {
	it, err := c.item(ctx, item)
	if err != nil {
		return "", err
	}
	return it.Name, nil
}

// item fetches item metadata once and caches it for the client's lifetime.
func (c *HTTPClient) item(ctx context.Context, id inventory.ItemID) (itemResponse, error) {
	c.mu.RLock()
	it, ok := c.items[id]
	c.mu.RUnlock()
	if ok {
		return it, nil
	}

	result := new(itemResponse)
	apiErr := new(apiError)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", string(id)).
		SetResult(result).
		SetError(apiErr).
		Get("/items/{id}")
	if err != nil {
		return itemResponse{}, fmt.Errorf("get item %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return itemResponse{}, fmt.Errorf("item %s: %w", id, inventory.ErrNotFound)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return itemResponse{}, responseError("/items/"+string(id), resp.StatusCode(), apiErr)
	}

	c.mu.Lock()
	c.items[id] = *result
	c.mu.Unlock()
	return *result, nil
}

func responseError(path string, status int, apiErr *apiError) error {
	message := ""
	if apiErr != nil {
		message = apiErr.Message
		if message == "" {
			message = apiErr.Error
		}
	}
	return fmt.Errorf("collaborator api error: path=%s, status=%d, message=%s", path, status, message)
}
