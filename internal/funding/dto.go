package funding

// RechargeRequest captures a user's top-up request.
type RechargeRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
}

// FailRequest carries the provider's failure reason.
type FailRequest struct {
	Reason string `json:"reason"`
}
