package dto

import "github.com/vistream/vistream/internal/models"

type PaymentListResponse struct {
	Data       []models.Payment `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

type SubscriptionListResponse struct {
	Data       []models.Subscription `json:"data"`
	Pagination Pagination            `json:"pagination"`
}
