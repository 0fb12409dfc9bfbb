package log

// Field names shared by every log entry.
const (
	FieldService    = "service"
	FieldInstanceID = "instance_id"

	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Also the gin context keys set by the auth middleware.
	FieldUserID   = "user_id"
	FieldUsername = "username"

	FieldConnectionID = "connection_id"
	FieldVideoID      = "video_id"
	FieldIdentity     = "identity"
	FieldEvent        = "event"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
