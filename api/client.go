// Package api is the thin client for the backend HTTP endpoints the sync
// core consumes: edit submission, position persistence, table data, the
// inserted-ID watermark and layout estimation. All calls take a context;
// a cancelled context is the expected way a superseded reload dies.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sheetsync/editmap"
	"sheetsync/positionmap"
	"sheetsync/sheets"
)

// RowLimit caps rows per table fetch, matching the backend's materialized
// view page size.
const RowLimit = 700

type Client struct {
	baseURL   string
	projectID int64
	http      *http.Client
	session   string
}

func NewClient(baseURL string, projectID int64) *Client {
	return &Client{
		baseURL:   baseURL,
		projectID: projectID,
		http:      &http.Client{Timeout: 30 * time.Second},
		session:   uuid.NewString(),
	}
}

// Session identifies this client instance in logs and diagnostics.
func (c *Client) Session() string { return c.session }

// SendResult is the backend's answer to an edit submission.
type SendResult struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Count  int    `json:"count"`
	Log    string `json:"log"`
}

type editsPayload struct {
	Sheet              string              `json:"sheet"`
	Edits              []editmap.EditEntry `json:"edits"`
	LastUsedInsertedID int64               `json:"lastUsedInsertedId"`
}

// SendEdits submits a batch of pending edits in ledger order together with
// the client-ID high-water mark. An HTTP error status or a logical error
// status in the body both come back as errors.
func (c *Client) SendEdits(ctx context.Context, sheet string, edits []editmap.EditEntry, lastUsedInsertedID int64) (*SendResult, error) {
	if len(edits) == 0 {
		return &SendResult{Status: "ok"}, nil
	}
	u := fmt.Sprintf("%s/api/updateEdits?project_id=%d", c.baseURL, c.projectID)
	payload := editsPayload{Sheet: sheet, Edits: edits, LastUsedInsertedID: lastUsedInsertedID}

	var result SendResult
	status, err := c.postJSON(ctx, u, payload, &result)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if result.Error != "" {
			return nil, fmt.Errorf("send edits: server error %d: %s", status, result.Error)
		}
		return nil, fmt.Errorf("send edits: server error %d", status)
	}
	if result.Status != "" && result.Status != "ok" && result.Status != "saved" {
		return nil, fmt.Errorf("send edits: bad status %q: %s", result.Status, result.Error)
	}
	return &result, nil
}

// SendPositionMap persists the user-visible row order. The endpoint takes a
// list so several sheets could be sent at once; the core always sends one.
func (c *Client) SendPositionMap(ctx context.Context, m *positionmap.Map) error {
	if m == nil || len(m.Rows) == 0 {
		return nil
	}
	u := fmt.Sprintf("%s/api/updatePosition?project_id=%d", c.baseURL, c.projectID)
	status, err := c.postJSON(ctx, u, []*positionmap.Map{m}, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("send position map: server error %d", status)
	}
	logrus.WithFields(logrus.Fields{"sheet": m.Sheet, "rows": len(m.Rows)}).
		Debug("api: position map sent")
	return nil
}

// NextInsertedID fetches the backend's inserted-ID watermark used to
// initialize the negative-ID allocator.
func (c *Client) NextInsertedID(ctx context.Context) (int64, error) {
	u := c.baseURL + "/api/next_inserted_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("next inserted id: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		NextID *int64 `json:"next_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("next inserted id: decode: %w", err)
	}
	if body.NextID == nil {
		return 0, fmt.Errorf("next inserted id: no next_id from backend")
	}
	return *body.NextID, nil
}

// TableData fetches one sheet's headers and data. Every call carries a
// fresh cache-busting token and no-store headers so a reload can never be
// served stale.
func (c *Client) TableData(ctx context.Context, table string) (*sheets.Snapshot, error) {
	u := fmt.Sprintf("%s/api/tabledata?table=%s&limit=%d&project_id=%d&_=%s",
		c.baseURL, url.QueryEscape(table), RowLimit, c.projectID, uuid.NewString())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("table data %s: %w", table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("table data %s: HTTP %d", table, resp.StatusCode)
	}
	var snap sheets.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("table data %s: decode: %w", table, err)
	}
	return &snap, nil
}

// EstimateLayout asks the layout collaborator for column widths and row
// heights matching a freshly fetched snapshot.
func (c *Client) EstimateLayout(ctx context.Context, headers []string, data [][]any) (sheets.Layout, error) {
	u := c.baseURL + "/api/estimateLayout"
	payload := struct {
		Headers []string `json:"headers"`
		Data    [][]any  `json:"data"`
	}{Headers: headers, Data: data}

	var layout sheets.Layout
	status, err := c.postJSON(ctx, u, payload, &layout)
	if err != nil {
		return sheets.Layout{}, err
	}
	if status < 200 || status >= 300 {
		return sheets.Layout{}, fmt.Errorf("estimate layout: server error %d", status)
	}
	return layout, nil
}

func (c *Client) postJSON(ctx context.Context, u string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(raw) > 0 {
		// Tolerate non-JSON bodies; the status code decides success.
		_ = json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}
