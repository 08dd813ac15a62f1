package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldTransactionID = "transaction_id"
	FieldAccountID     = "account_id"
	FieldTemplateID    = "template_id"
	FieldListID        = "list_id"
	FieldRunID         = "run_id"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldDate          = "date"
)

// Component names that appear in emitted log lines
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
)
