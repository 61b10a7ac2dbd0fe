package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/observability/tracing"
	"github.com/scanpoint/verity/internal/queue"
	"go.uber.org/zap"
)

// HTTPClient talks to the POS REST API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPClient(cfg config.Config, log *zap.Logger) *HTTPClient {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.POS.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.POS.BaseURL, "/"),
		token:   cfg.POS.Token,
		client:  tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		log:     log.Named("pos.client"),
	}
}

func (c *HTTPClient) GetTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), nil, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *HTTPClient) GetCustomerByID(ctx context.Context, id string) (Profile, error) {
	profile := Profile{}
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(id), nil, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateCustomerByID writes profile fields. The upstream API has no
// fill-blanks mode, so the client reads the current profile first and sends
// only the fields the merge would actually take.
func (c *HTTPClient) UpdateCustomerByID(ctx context.Context, id string, fields map[string]any, fillBlanksOnly bool) (UpdateResult, error) {
	send := fields
	var skipped []string

	if fillBlanksOnly {
		existing, err := c.GetCustomerByID(ctx, id)
		if err != nil {
			return UpdateResult{}, err
		}
		send = make(map[string]any, len(fields))
		for key, value := range fields {
			if queue.IsBlank(value) {
				continue
			}
			if !queue.IsBlank(existing[key]) {
				skipped = append(skipped, key)
				continue
			}
			send[key] = value
		}
	}

	if len(send) == 0 {
		return UpdateResult{Updated: false, Skipped: skipped, Status: "noop"}, nil
	}

	var result UpdateResult
	if err := c.do(ctx, http.MethodPatch, "/customers/"+url.PathEscape(id), map[string]any{"fields": send}, &result); err != nil {
		return UpdateResult{}, err
	}
	result.Updated = true
	if len(result.Fields) == 0 {
		for key := range send {
			result.Fields = append(result.Fields, key)
		}
	}
	result.Skipped = append(result.Skipped, skipped...)
	if result.Status == "" {
		result.Status = "updated"
	}
	return result, nil
}

func (c *HTTPClient) ListOpenTransactions(ctx context.Context, deviceID, outletID string) ([]Transaction, error) {
	query := url.Values{"status": {"open"}}
	if deviceID != "" {
		query.Set("deviceId", deviceID)
	}
	if outletID != "" {
		query.Set("outletId", outletID)
	}

	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/transactions?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("pos request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return &APIError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
