// Package fever pulls order data from the Fever reporting API and flattens
// it into one row per order item. The API is asynchronous: a search is
// started, polled until partitioned results are ready, then fetched page by
// page.
package fever

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"popdesk/internal/models"
)

const maxPollAttempts = 60

// pollInterval is a variable so tests can shorten it.
var pollInterval = 2 * time.Second

// Store is the persistence surface the order sync needs.
type Store interface {
	UpsertOrderItem(ctx context.Context, item *models.OrderItem) error
}

// Client talks to the Fever reporting API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	planIDs    []int
}

// Options configure a Client.
type Options struct {
	Host     string
	Username string
	Password string
	PlanIDs  []int
	// BaseURL overrides the https://{Host} base, for tests.
	BaseURL string
}

func NewClient(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = "https://" + opts.Host
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(base, "/"),
		username:   opts.Username,
		password:   opts.Password,
		planIDs:    opts.PlanIDs,
	}
}

// SearchWindow optionally restricts the pull to a date range on one of the
// API's date fields (e.g. CREATED_DATE_UTC).
type SearchWindow struct {
	DateField string
	DateFrom  string
	DateTo    string
}

// order mirrors the subset of the Fever order payload we keep.
type order struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
	Buyer  struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"buyer"`
	Plan struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"plan"`
	Currency string      `json:"currency"`
	Items    []orderItem `json:"order_items"`
}

type orderItem struct {
	ID                  json.Number `json:"id"`
	Status              string      `json:"status"`
	UnitaryPrice        json.Number `json:"unitary_price"`
	Discount            json.Number `json:"discount"`
	PurchaseDateUTC     string      `json:"purchase_date_utc"`
	CancellationDateUTC string      `json:"cancellation_date_utc"`
	Session             struct {
		Name  string `json:"name"`
		Venue struct {
			Name string `json:"name"`
		} `json:"venue"`
	} `json:"session"`
}

// SyncOrders runs one pull: authenticate, search, poll, fetch pages,
// flatten, upsert. Per-item upsert failures land in the result's error list
// and the pull keeps going.
func (c *Client) SyncOrders(ctx context.Context, store Store, window SearchWindow) (*models.OrderSyncResult, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	searchID, err := c.startSearch(ctx, token, window)
	if err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}
	log.Info().Str("search_id", searchID).Msg("Started order search")

	pages, err := c.waitForPartitions(ctx, token, searchID)
	if err != nil {
		return nil, fmt.Errorf("wait for results: %w", err)
	}

	result := &models.OrderSyncResult{}
	for _, page := range pages {
		orders, err := c.fetchPage(ctx, token, searchID, page)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("fetch page %d: %v", page, err))
			continue
		}
		result.OrdersFetched += len(orders)

		for _, o := range orders {
			for _, row := range flatten(o) {
				if err := store.UpsertOrderItem(ctx, row); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("upsert item %s: %v", row.ItemID, err))
					continue
				}
				result.ItemsUpserted++
			}
		}
	}

	result.CompletedAt = time.Now().UTC()
	log.Info().
		Int("orders", result.OrdersFetched).
		Int("items", result.ItemsUpserted).
		Int("errors", len(result.Errors)).
		Msg("Order sync completed")
	return result, nil
}

// authenticate exchanges credentials for a bearer token via a form POST.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("auth response carried no token")
	}
	return body.AccessToken, nil
}

// startSearch kicks off an order-items search and returns its search ID.
func (c *Client) startSearch(ctx context.Context, token string, window SearchWindow) (string, error) {
	payload := map[string]interface{}{"plan_ids": c.planIDs}
	if window.DateField != "" {
		payload["date_field"] = window.DateField
	}
	if window.DateFrom != "" {
		payload["date_from"] = window.DateFrom
	}
	if window.DateTo != "" {
		payload["date_to"] = window.DateTo
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/reports/order-items/search", strings.NewReader(string(data)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var body struct {
		SearchID string `json:"search_id"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return "", err
	}
	if body.SearchID == "" {
		return "", fmt.Errorf("search response carried no search_id")
	}
	return body.SearchID, nil
}

// waitForPartitions polls the search until partition_info appears, then
// returns the sorted distinct page numbers.
func (c *Client) waitForPartitions(ctx context.Context, token, searchID string) ([]int, error) {
	pollURL := c.baseURL + "/v1/reports/order-items/search/" + searchID

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		var body struct {
			PartitionInfo []json.RawMessage `json:"partition_info"`
		}
		if err := c.doJSON(req, &body); err != nil {
			return nil, err
		}

		if len(body.PartitionInfo) > 0 {
			return parsePartitions(body.PartitionInfo), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return nil, fmt.Errorf("search %s did not complete after %d polls", searchID, maxPollAttempts)
}

// parsePartitions tolerates the API's two partition_info shapes: a bare
// number, or an object with one of several numbering keys.
func parsePartitions(raw []json.RawMessage) []int {
	seen := make(map[int]bool)
	for _, r := range raw {
		var num int
		if err := json.Unmarshal(r, &num); err == nil {
			if num >= 0 {
				seen[num] = true
			}
			continue
		}

		var obj map[string]json.Number
		if err := json.Unmarshal(r, &obj); err != nil {
			continue
		}
		for _, key := range []string{"partition_num", "partition", "page", "number"} {
			if v, ok := obj[key]; ok {
				if n, err := v.Int64(); err == nil && n >= 0 {
					seen[int(n)] = true
				}
				break
			}
		}
	}

	if len(seen) == 0 {
		return []int{0}
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// fetchPage retrieves one result partition.
func (c *Client) fetchPage(ctx context.Context, token, searchID string, page int) ([]order, error) {
	u := fmt.Sprintf("%s/v1/reports/order-items/search/%s?page=%d", c.baseURL, searchID, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var body struct {
		Data []order `json:"data"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// flatten expands one order into one row per item, repeating order-level
// fields on each row.
func flatten(o order) []*models.OrderItem {
	items := o.Items
	if len(items) == 0 {
		items = []orderItem{{}}
	}

	rows := make([]*models.OrderItem, 0, len(items))
	for _, it := range items {
		itemID := it.ID.String()
		if itemID == "" {
			// Itemless orders still get one row keyed by the order.
			itemID = "order-" + o.ID.String()
		}
		rows = append(rows, &models.OrderItem{
			ItemID:         itemID,
			OrderID:        o.ID.String(),
			Status:         it.Status,
			BuyerEmail:     strings.ToLower(strings.TrimSpace(o.Buyer.Email)),
			BuyerFirstName: o.Buyer.FirstName,
			BuyerLastName:  o.Buyer.LastName,
			PlanID:         o.Plan.ID.String(),
			PlanName:       o.Plan.Name,
			SessionName:    it.Session.Name,
			VenueName:      it.Session.Venue.Name,
			Currency:       o.Currency,
			UnitaryPrice:   it.UnitaryPrice.String(),
			Discount:       it.Discount.String(),
			PurchasedAt:    parseUTC(it.PurchaseDateUTC),
			CancelledAt:    parseUTC(it.CancellationDateUTC),
		})
	}
	return rows
}

// parseUTC handles the API's date formats, returning nil when absent or
// unparseable.
func parseUTC(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// doJSON executes a request and decodes a JSON body, surfacing non-2xx
// statuses as errors.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %s: %s", req.Method, req.URL.Path, strconv.Itoa(resp.StatusCode), string(snippet))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
