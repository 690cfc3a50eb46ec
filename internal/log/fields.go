package log

import "backoffice/internal/core"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
	FieldOperation  = "operation"
	FieldPropertyID = "property_id"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldStatus     = "status"
	FieldSource     = "source"
	FieldRequested  = "requested"
	FieldSucceeded  = "succeeded"
	FieldFailed     = "failed"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentMonthEnd  = "monthend"
	ComponentInventory = "inventory"
	ComponentExport    = "export"
	ComponentLimiter   = "limiter"
	ComponentGoogle    = "google"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpRead      = "read"
	OpList      = "list"
	OpSetStatus = "set_status"
	OpBatch     = "batch_set_status"
	OpCalculate = "calculate"
	OpExport    = "export"
	OpNotify    = "notify_owner"
	OpRecord    = "record"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error message and its kind.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorKind] = core.KindOf(err).String()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithPropertyMonth adds the property and month being worked on.
func (f LogFields) WithPropertyMonth(key core.PropertyMonth) LogFields {
	f[FieldPropertyID] = key.PropertyID
	f[FieldYear] = key.Year
	f[FieldMonth] = key.Month
	return f
}

// WithStatus adds the month-end status and the source that set it.
func (f LogFields) WithStatus(status core.Status, source string) LogFields {
	f[FieldStatus] = string(status)
	if source != "" {
		f[FieldSource] = source
	}
	return f
}

// WithBatch adds batch outcome counters.
func (f LogFields) WithBatch(requested, succeeded, failed int) LogFields {
	f[FieldRequested] = requested
	f[FieldSucceeded] = succeeded
	f[FieldFailed] = failed
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
