// Package catalog implements the YouDo listings API client: paginated task
// search plus per-task detail fetches. API responses are decoded into
// explicit types at this boundary; nothing downstream touches raw JSON.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/alexey-kott/youdo-watcher/internal/model"
)

const (
	defaultBaseURL = "https://youdo.com"
	searchPath     = "/api/tasks/tasks/"
	taskByIDPath   = "/api/tasks/taskmodel/"
	httpTimeout    = 15 * time.Second

	// descriptionSelector locates the full task description on the canonical
	// task page. If YouDo changes the page layout, FetchDetail starts
	// returning ErrDetailNotFound and operators find out via the digest.
	descriptionSelector = "div[itemprop=description]"
)

// Client fetches tasks from the YouDo public API. A single Client owns one
// shared http.Client, so connections are reused across the whole poll loop.
type Client struct {
	BaseURL string
	Lat     string
	Lng     string
	Radius  string
	client  *http.Client
}

// NewClient constructs a Client centred on the given geographic point.
func NewClient(lat, lng, radius string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		Lat:     lat,
		Lng:     lng,
		Radius:  radius,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// searchEnvelope mirrors the top-level search response. Depending on the
// endpoint deployment, ResultObject carries either full Items or lightweight
// Pins — never both populated at once.
type searchEnvelope struct {
	ResultObject *searchResult `json:"ResultObject"`
}

type searchResult struct {
	Items []model.Task `json:"Items"`
	Pins  []model.Pin  `json:"Pins"`
}

// taskEnvelope mirrors the detail-by-id response.
type taskEnvelope struct {
	ResultObject *model.Task `json:"ResultObject"`
}

// Search returns open tasks matching query, in API order. Pin-shaped results
// are resolved through TaskByID before returning, so callers always see fully
// populated tasks. A blank query fails with ErrInvalidQuery before any
// network I/O.
func (c *Client) Search(ctx context.Context, query string) ([]model.Task, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("list", "all")
	params.Set("status", "opened")
	params.Set("lat", c.Lat)
	params.Set("lng", c.Lng)
	params.Set("radius", c.Radius)
	params.Set("page", "1")
	params.Set("noOffers", "false")
	params.Set("onlySbr", "false")
	params.Set("onlyB2B", "false")
	params.Set("recommended", "false")
	params.Set("priceMin", "0")
	params.Set("sortType", "1")
	params.Set("categories", "all")

	body, err := c.get(ctx, c.BaseURL+searchPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var envelope searchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", ErrProtocol, err)
	}
	if envelope.ResultObject == nil {
		return nil, fmt.Errorf("%w: missing ResultObject", ErrProtocol)
	}

	if len(envelope.ResultObject.Items) > 0 {
		return envelope.ResultObject.Items, nil
	}

	// Pin mode: the search endpoint returned only markers, so every field
	// beyond the id has to come from a per-task fetch.
	tasks := make([]model.Task, 0, len(envelope.ResultObject.Pins))
	for _, pin := range envelope.ResultObject.Pins {
		task, err := c.TaskByID(ctx, pin.ID)
		if err != nil {
			return tasks, fmt.Errorf("resolve pin %d: %w", pin.ID, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// TaskByID fetches a single task's full record from the detail-by-id
// endpoint.
func (c *Client) TaskByID(ctx context.Context, id int64) (model.Task, error) {
	params := url.Values{}
	params.Set("taskId", strconv.FormatInt(id, 10))

	body, err := c.get(ctx, c.BaseURL+taskByIDPath+"?"+params.Encode())
	if err != nil {
		return model.Task{}, err
	}

	var envelope taskEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.Task{}, fmt.Errorf("%w: decode task %d: %v", ErrProtocol, id, err)
	}
	if envelope.ResultObject == nil {
		return model.Task{}, fmt.Errorf("%w: missing ResultObject for task %d", ErrProtocol, id)
	}

	return *envelope.ResultObject, nil
}

// FetchDetail fetches the task's canonical page and extracts the full
// description text. Purely read-only.
func (c *Client) FetchDetail(ctx context.Context, id int64) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/t%d", c.BaseURL, id))
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("%w: parse task page %d: %v", ErrProtocol, id, err)
	}

	sel := doc.Find(descriptionSelector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: task %d", ErrDetailNotFound, id)
	}

	return strings.TrimSpace(sel.First().Text()), nil
}

// get performs one GET and returns the body of a 2xx response. Transport
// failures wrap ErrUnavailable; non-success statuses become a *StatusError
// carrying the raw body.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
