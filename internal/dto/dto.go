package dto

import "encoding/json"

// ShopifyEntity is the part of an order or draft webhook the gateway reads.
type ShopifyEntity struct {
	ID                json.Number `json:"id"`
	AdminGraphqlAPIID string      `json:"admin_graphql_api_id"`
}

type ShopifyRefund struct {
	ID      json.Number `json:"id"`
	OrderID json.Number `json:"order_id"`
}

// InboundSMS is what the gateway queues for a Twilio messaging webhook.
type InboundSMS struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Body  string   `json:"body"`
	SID   string   `json:"sid"`
	Media []string `json:"media,omitempty"`
}

type DesignLead struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Zip       string   `json:"zip"`
	Timeline  string   `json:"timeline"`
	Budget    string   `json:"budget"`
	Interests []string `json:"interests"`
	Comments  string   `json:"comments"`
}

type SyncRequest struct {
	Phone string `json:"phone"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
