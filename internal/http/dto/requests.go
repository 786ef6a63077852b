package dto

import "time"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // client or specialist

	// Specialist profile, required when role = specialist
	Headline string  `json:"headline,omitempty"`
	Bio      *string `json:"bio,omitempty"`
	Category string  `json:"category,omitempty"`
	City     *string `json:"city,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateOrderRequest struct {
	SpecialistID string     `json:"specialist_id"`
	ServiceID    *string    `json:"service_id,omitempty"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Address      *string    `json:"address,omitempty"`
	AmountMinor  int64      `json:"amount_minor"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Resolution    string `json:"resolution"` // refund_client, release_specialist, split
	SplitNetMinor *int64 `json:"split_net_minor,omitempty"`
}

type CreateServiceRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	PriceMinor  int64   `json:"price_minor"`
	Category    string  `json:"category"`
}

type CreateReviewRequest struct {
	OrderID string  `json:"order_id"`
	Rating  int     `json:"rating"`
	Text    *string `json:"text,omitempty"`
}

type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}
