package model

// Notification 领域层发起的通知请求；收件人已由调用方排除退订成员
type Notification struct {
	CorrelationID string   `json:"correlation_id" validate:"required,max=64"`
	Recipients    []string `json:"recipients" validate:"required,min=1,dive,required,email"`
	Subject       string   `json:"subject" validate:"required,max=512"`
	Body          string   `json:"body" validate:"required"`
}
