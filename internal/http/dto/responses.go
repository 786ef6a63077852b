package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type PaymentInfoResponse struct {
	OrderID         string `json:"order_id"`
	LedgerID        string `json:"ledger_id"`
	State           string `json:"state"`
	AmountMinor     int64  `json:"amount_minor"`
	CommissionMinor int64  `json:"commission_minor"`
	NetMinor        int64  `json:"net_minor"`
	Currency        string `json:"currency"`
	ExternalRef     string `json:"external_ref,omitempty"`
}

type VAPIDKeyResponse struct {
	PublicKey string `json:"public_key"`
}
