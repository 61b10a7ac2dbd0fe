package pos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/queue"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{}
	cfg.POS.BaseURL = server.URL
	cfg.POS.Token = "secret-token"
	return NewHTTPClient(cfg, zap.NewNop()), server
}

func TestGetTransactionSendsBearerToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Transaction{ID: "tx-1", Status: "open", LinkedCustomerID: "c-1"})
	}))

	tx, err := client.GetTransactionByID(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if tx.LinkedCustomerID != "c-1" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetTransactionByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpstreamErrorCarriesStatusCode(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))

	_, err := client.GetCustomerByID(context.Background(), "c-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if queue.Classify(err) != queue.OutcomePermanent {
		t.Fatalf("401 should classify permanent")
	}
}

func TestUpdateCustomerFillBlanksSkipsSetFields(t *testing.T) {
	var patched map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(Profile{"id": "c-1", "firstName": "Jane", "lastName": ""})
		case http.MethodPatch:
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			patched = body.Fields
			json.NewEncoder(w).Encode(UpdateResult{Status: "updated"})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))

	result, err := client.UpdateCustomerByID(context.Background(), "c-1", map[string]any{
		"firstName":   "Janet",
		"lastName":    "Doe",
		"dateOfBirth": "1995-02-14",
	}, true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !result.Updated {
		t.Fatalf("expected an update, got %+v", result)
	}
	if _, ok := patched["firstName"]; ok {
		t.Fatalf("firstName already set upstream, must be skipped: %v", patched)
	}
	if patched["lastName"] != "Doe" || patched["dateOfBirth"] != "1995-02-14" {
		t.Fatalf("blank fields not sent: %v", patched)
	}

	sort.Strings(result.Skipped)
	if len(result.Skipped) != 1 || result.Skipped[0] != "firstName" {
		t.Fatalf("unexpected skipped set %v", result.Skipped)
	}
}

func TestUpdateCustomerAllFieldsSetIsNoop(t *testing.T) {
	var patchCalls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(Profile{"id": "c-1", "firstName": "Jane"})
		case http.MethodPatch:
			patchCalls++
			json.NewEncoder(w).Encode(UpdateResult{})
		}
	}))

	result, err := client.UpdateCustomerByID(context.Background(), "c-1", map[string]any{"firstName": "Janet"}, true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Updated || result.Status != "noop" {
		t.Fatalf("expected noop, got %+v", result)
	}
	if patchCalls != 0 {
		t.Fatalf("no PATCH expected, got %d", patchCalls)
	}
}

func TestListOpenTransactionsFiltersByDevice(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("deviceId"); got != "dev-7" {
			t.Fatalf("missing device filter, query %v", r.URL.Query())
		}
		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []Transaction{{ID: "tx-1", Status: "open", DeviceID: "dev-7"}},
		})
	}))

	txs, err := client.ListOpenTransactions(context.Background(), "dev-7", "outlet-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "tx-1" {
		t.Fatalf("unexpected transactions %+v", txs)
	}
}
