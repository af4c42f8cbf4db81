// Package serpapi pulls business listings from the SerpAPI Google Maps
// engine.
package serpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buscai/backend/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// PageSize is the number of local results the engine returns per page.
const PageSize = 20

var ErrNotConfigured = errors.New("serpapi client is not configured")

// Place is one entry of local_results.
type Place struct {
	PlaceID   string
	Name      string
	Address   string
	Phone     string
	Website   string
	Rating    float64
	Reviews   int
	Latitude  *float64
	Longitude *float64
	Raw       string
}

type Page struct {
	Places  []Place
	HasNext bool
}

type Client struct {
	baseURL    string
	apiKey     string
	maxPages   int
	httpClient *http.Client
}

func NewClient(cfg config.SerpAPIConfig) *Client {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxPages:   maxPages,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

func (c *Client) MaxPages() int {
	return c.maxPages
}

// Search fetches one page (0-based) of Google Maps results for the query.
func (c *Client) Search(ctx context.Context, query string, page int) (*Page, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("engine", "google_maps")
	params.Set("type", "search")
	params.Set("q", query)
	params.Set("hl", "pt-br")
	params.Set("gl", "br")
	params.Set("api_key", c.apiKey)
	if page > 0 {
		params.Set("start", strconv.Itoa(page*PageSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" || resp.StatusCode >= 300 {
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("serpapi %d: %s", resp.StatusCode, msg)
	}

	result := ParsePage(body)
	log.Printf("[SERPAPI] %q page %d returned %d places", query, page, len(result.Places))
	return result, nil
}

// ParsePage reads local_results and the pagination block of a response.
func ParsePage(body []byte) *Page {
	page := &Page{Places: []Place{}}

	gjson.GetBytes(body, "local_results").ForEach(func(_, r gjson.Result) bool {
		p := Place{
			PlaceID: r.Get("place_id").String(),
			Name:    strings.TrimSpace(r.Get("title").String()),
			Address: r.Get("address").String(),
			Phone:   r.Get("phone").String(),
			Website: r.Get("website").String(),
			Rating:  r.Get("rating").Float(),
			Reviews: int(r.Get("reviews").Int()),
			Raw:     r.Raw,
		}
		if gps := r.Get("gps_coordinates"); gps.Exists() {
			lat, lng := gps.Get("latitude").Float(), gps.Get("longitude").Float()
			p.Latitude, p.Longitude = &lat, &lng
		}
		if p.Name != "" {
			page.Places = append(page.Places, p)
		}
		return true
	})

	page.HasNext = gjson.GetBytes(body, "serpapi_pagination.next").String() != ""
	return page
}
