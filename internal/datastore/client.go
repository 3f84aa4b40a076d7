package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Client is the Source backed by the external event store over HTTP. Reads
// go to the reader endpoint, writes and id reservation to the writer.
type Client struct {
	readerURL string
	writerURL string
	http      *http.Client
}

func NewClient(readerURL, writerURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{readerURL: readerURL, writerURL: writerURL, http: hc}
}

func (c *Client) post(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return httperr.NewDatastore("encode request for %s: %v", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return httperr.NewDatastore("build request for %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return httperr.NewDatastore("datastore unreachable: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return httperr.NewDatastore("read datastore response: %v", err)
	}
	switch {
	case resp.StatusCode == http.StatusConflict:
		return httperr.NewModelLocked("%s", bodyMessage(raw))
	case resp.StatusCode == http.StatusNotFound:
		return httperr.NewNotFound("%s", bodyMessage(raw))
	case resp.StatusCode >= 300:
		return httperr.NewDatastore("datastore returned %d: %s", resp.StatusCode, bodyMessage(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return httperr.NewDatastore("decode datastore response: %v", err)
		}
	}
	return nil
}

func bodyMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
		return envelope.Message
	}
	return string(raw)
}

func (c *Client) Get(ctx context.Context, id fqid.FQID, fields []string) (map[string]any, int, error) {
	var res struct {
		Position int            `json:"position"`
		Model    map[string]any `json:"model"`
	}
	payload := map[string]any{"fqid": id.String(), "mapped_fields": fields}
	if err := c.post(ctx, c.readerURL+"/get", payload, &res); err != nil {
		return nil, 0, err
	}
	return res.Model, res.Position, nil
}

func (c *Client) GetMany(ctx context.Context, reqs []GetManyRequest) (map[string]map[int]map[string]any, int, error) {
	var res struct {
		Position int                                  `json:"position"`
		Models   map[string]map[string]map[string]any `json:"models"`
	}
	if err := c.post(ctx, c.readerURL+"/get_many", map[string]any{"requests": reqs}, &res); err != nil {
		return nil, 0, err
	}
	out := make(map[string]map[int]map[string]any, len(res.Models))
	for coll, models := range res.Models {
		out[coll] = make(map[int]map[string]any, len(models))
		for rawID, model := range models {
			id, err := strconv.Atoi(rawID)
			if err != nil {
				return nil, 0, httperr.NewDatastore("invalid id %q in datastore response", rawID)
			}
			out[coll][id] = model
		}
	}
	return out, res.Position, nil
}

func (c *Client) Filter(ctx context.Context, collection string, f Filter, fields []string) (map[int]map[string]any, int, error) {
	var res struct {
		Position int                       `json:"position"`
		Data     map[string]map[string]any `json:"data"`
	}
	wire, err := MarshalFilter(f)
	if err != nil {
		return nil, 0, httperr.NewDatastore("encode filter: %v", err)
	}
	payload := map[string]any{
		"collection":    collection,
		"filter":        json.RawMessage(wire),
		"mapped_fields": fields,
	}
	if err := c.post(ctx, c.readerURL+"/filter", payload, &res); err != nil {
		return nil, 0, err
	}
	out := make(map[int]map[string]any, len(res.Data))
	for rawID, model := range res.Data {
		id, err := strconv.Atoi(rawID)
		if err != nil {
			return nil, 0, httperr.NewDatastore("invalid id %q in datastore response", rawID)
		}
		out[id] = model
	}
	return out, res.Position, nil
}

func (c *Client) Exists(ctx context.Context, collection string, f Filter) (bool, int, error) {
	var res struct {
		Position int  `json:"position"`
		Exists   bool `json:"exists"`
	}
	err := c.aggregateCall(ctx, collection, f, "", "exists", &res)
	return res.Exists, res.Position, err
}

func (c *Client) Count(ctx context.Context, collection string, f Filter) (int, int, error) {
	var res struct {
		Position int `json:"position"`
		Count    int `json:"count"`
	}
	err := c.aggregateCall(ctx, collection, f, "", "count", &res)
	return res.Count, res.Position, err
}

func (c *Client) Min(ctx context.Context, collection string, f Filter, field string) (*int, int, error) {
	var res struct {
		Position int  `json:"position"`
		Min      *int `json:"min"`
	}
	err := c.aggregateCall(ctx, collection, f, field, "min", &res)
	return res.Min, res.Position, err
}

func (c *Client) Max(ctx context.Context, collection string, f Filter, field string) (*int, int, error) {
	var res struct {
		Position int  `json:"position"`
		Max      *int `json:"max"`
	}
	err := c.aggregateCall(ctx, collection, f, field, "max", &res)
	return res.Max, res.Position, err
}

func (c *Client) aggregateCall(ctx context.Context, collection string, f Filter, field, function string, out any) error {
	wire, err := MarshalFilter(f)
	if err != nil {
		return httperr.NewDatastore("encode filter: %v", err)
	}
	payload := map[string]any{
		"collection": collection,
		"filter":     json.RawMessage(wire),
		"function":   function,
	}
	if field != "" {
		payload["field"] = field
	}
	return c.post(ctx, c.readerURL+"/aggregate", payload, out)
}

func (c *Client) ReserveIDs(ctx context.Context, collection string, amount int) ([]int, error) {
	var res struct {
		IDs []int `json:"ids"`
	}
	payload := map[string]any{"collection": collection, "amount": amount}
	if err := c.post(ctx, c.writerURL+"/reserve_ids", payload, &res); err != nil {
		return nil, err
	}
	if len(res.IDs) != amount {
		return nil, httperr.NewDatastore("reserved %d ids, wanted %d", len(res.IDs), amount)
	}
	return res.IDs, nil
}

func (c *Client) HistoryInformation(ctx context.Context, fqids []string) (map[string][]HistoryEntry, error) {
	var res map[string][]HistoryEntry
	if err := c.post(ctx, c.readerURL+"/history_information", map[string]any{"fqids": fqids}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Write(ctx context.Context, req WriteRequest) error {
	return c.post(ctx, c.writerURL+"/write", req, nil)
}

var _ Source = (*Client)(nil)
var _ Source = (*MemStore)(nil)
