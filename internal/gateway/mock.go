package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MockClient is a mock gateway client for testing.
// Simulates accepted charges without calling the provider.
type MockClient struct {
	// ChargeStoredTokenFunc allows customizing charge behavior
	ChargeStoredTokenFunc func(ctx context.Context, params ChargeParams) (*ChargeResult, error)

	// Charges records every charge attempt for test assertions
	Charges []ChargeParams

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockClient creates a new mock gateway client.
func NewMockClient() *MockClient {
	return &MockClient{
		Charges: []ChargeParams{},
		CallLog: []string{},
	}
}

// ChargeStoredToken records the charge and returns an accepted result.
func (m *MockClient) ChargeStoredToken(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ChargeStoredToken(%s, %d %s)", params.OrderID, params.AmountCents, params.Currency))
	m.Charges = append(m.Charges, params)

	if m.ChargeStoredTokenFunc != nil {
		return m.ChargeStoredTokenFunc(ctx, params)
	}

	// Default mock behavior: charge accepted
	gatewayOrderID := "G-" + uuid.New().String()[:8]
	return &ChargeResult{
		GatewayOrderID: gatewayOrderID,
		Status:         "confirmed_pending",
		RawPayload:     json.RawMessage(fmt.Sprintf(`{"netopia_order_id":%q,"status":"confirmed_pending"}`, gatewayOrderID)),
	}, nil
}
