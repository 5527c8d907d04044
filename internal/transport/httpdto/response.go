package httpdto

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// Response codes shared by handlers and clients.
const (
	CodeBusy              = "BUSY"
	CodeDuplicateEvent    = "DUPLICATE_EVENT"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeMalformedSignal   = "MALFORMED_SIGNAL"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeCallTerminated    = "CALL_TERMINATED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// NewCodedResponse is a success carrying an informational code.
func NewCodedResponse[T any](data T, code string) Response[T] {
	return Response[T]{Success: true, Data: data, Code: code}
}

// NewErrorResponseWithData is a failure that still carries data, e.g. the
// busy party of a rejected admission.
func NewErrorResponseWithData[T any](err string, code string, data T) Response[T] {
	return Response[T]{Success: false, Error: err, Code: code, Data: data}
}
