package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/kotare/internal/engine"
	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
	"github.com/dreamware/kotare/internal/transfer"
)

// BatchRequest submits an ordered batch to one shard.
type BatchRequest struct {
	Shard ledger.ShardID `json:"shard"`
	Batch ledger.Batch   `json:"batch"`
}

// BatchResponse is the full execution result for a batch.
type BatchResponse struct {
	Result executor.BatchResult `json:"result"`
}

// TransferResponse acknowledges a cross-shard transfer submission. The
// engine.TransferRequest type is the request body.
type TransferResponse struct {
	Receipt transfer.Receipt `json:"receipt"`
}

// TransferStatusResponse is the poll answer for one transfer.
type TransferStatusResponse struct {
	Transfer transfer.View `json:"transfer"`
}

// FinalizeRequest marks a committed batch final on its shard.
type FinalizeRequest struct {
	Shard   ledger.ShardID `json:"shard"`
	BatchID string         `json:"batch_id"`
}

// AccountResponse carries one account's current state.
type AccountResponse struct {
	Account ledger.Account `json:"account"`
}

// StatsResponse is the engine-wide stats snapshot.
type StatsResponse struct {
	Stats engine.Stats `json:"stats"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// PostJSON sends body as JSON and decodes the response into out when out
// is non-nil. Non-2xx answers become errors carrying the server's message.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(url string, resp *http.Response) error {
	var errResp ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("http %s: %d: %s", url, resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("http %s: %d", url, resp.StatusCode)
}
