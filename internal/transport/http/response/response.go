package response

import "github.com/gin-gonic/gin"

const (
	CodeOK              = 0
	CodeBadRequest      = 40000
	CodeForbidden       = 40300
	CodeNotFound        = 40400
	CodeTenantNotFound  = 40401
	CodeNoDocuments     = 40402
	CodeDocumentMissing = 40403
	CodeTooManyRequests = 42900
	CodeInternalServer  = 50000
	CodeUnavailable     = 50300
)

// APIResponse is the envelope for every non-legacy endpoint. Errors also
// repeat the message under "detail" so clients written against the first
// release of the API keep working.
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Accepted(c *gin.Context, data interface{}) {
	c.JSON(202, APIResponse{
		Code:    CodeOK,
		Message: "accepted",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Detail:  message,
	})
}
