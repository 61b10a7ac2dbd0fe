package pos

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the upstream has no record for the id.
var ErrNotFound = errors.New("pos: not found")

// Transaction is an open sale on the point-of-sale side. Only the fields the
// reconciliation flow reads are modelled.
type Transaction struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DeviceID         string `json:"deviceId"`
	OutletID         string `json:"outletId"`
	LinkedCustomerID string `json:"customerId"`
}

// Profile is the upstream customer record, kept as a loose field map so the
// fill-blanks merge treats every profile field uniformly.
type Profile map[string]any

// UpdateResult reports which profile fields an update actually wrote.
type UpdateResult struct {
	Updated bool     `json:"updated"`
	Fields  []string `json:"fields"`
	Skipped []string `json:"skipped"`
	Status  string   `json:"status"`
}

// Client is the point-of-sale collaborator. The reconciliation worker uses
// it to resolve transactions to customers and push verified identity fields
// back onto the customer profile.
type Client interface {
	GetTransactionByID(ctx context.Context, id string) (*Transaction, error)
	GetCustomerByID(ctx context.Context, id string) (Profile, error)
	// UpdateCustomerByID writes fields onto the customer profile. With
	// fillBlanksOnly set, fields the profile already has a value for are
	// skipped instead of overwritten.
	UpdateCustomerByID(ctx context.Context, id string, fields map[string]any, fillBlanksOnly bool) (UpdateResult, error)
	ListOpenTransactions(ctx context.Context, deviceID, outletID string) ([]Transaction, error)
}

// APIError is a non-2xx upstream response. It carries the status code so the
// queue's failure classification can tell permanent from transient errors.
type APIError struct {
	Code   int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("pos: upstream status %d", e.Code)
	}
	return fmt.Sprintf("pos: upstream status %d: %s", e.Code, e.Detail)
}

func (e *APIError) StatusCode() int { return e.Code }
