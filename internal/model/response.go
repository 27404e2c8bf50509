package model

// ErrorResponse error envelope shared by all API endpoints
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// SuccessResponse success envelope shared by all API endpoints
type SuccessResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// TokenUsage token accounting for one AI call
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// quota decline reasons, machine-readable
const (
	ReasonFeatureDisabled      = "feature_disabled"
	ReasonPlanInactive         = "plan_inactive"
	ReasonPlanExpired          = "plan_expired"
	ReasonMonthlyLimitExceeded = "monthly_limit_exceeded"
	ReasonDailyLimitExceeded   = "daily_limit_exceeded"
	ReasonRateLimited          = "rate_limited"
)

// QuotaDecision feature/limit check outcome
type QuotaDecision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	Message         string `json:"message,omitempty"`
	UpgradeRequired bool   `json:"upgrade_required,omitempty"`
}

// RateDecision short-window rate check outcome
type RateDecision struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int64 `json:"remaining,omitempty"`
	RetryAfter int64 `json:"retry_after,omitempty"` // seconds
}

// Allow convenience constructor
func Allow() *QuotaDecision {
	return &QuotaDecision{Allowed: true}
}

// Decline convenience constructor
func Decline(reason, message string, upgrade bool) *QuotaDecision {
	return &QuotaDecision{Reason: reason, Message: message, UpgradeRequired: upgrade}
}
