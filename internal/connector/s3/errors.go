package s3

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeThrottled           = "E_THROTTLED"
	CodeRemote              = "E_REMOTE"
)

// Error wraps remote-store failures with a classification code and a
// retryability hint.
type Error struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is classified as a transient failure.
func IsRetryable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Retryable
}

func wrapError(op, code string, retryable bool, err error) *Error {
	return &Error{Op: op, Code: code, Retryable: retryable, Err: err}
}

// classify converts minio-go and network errors into our structured Error
// type. Unrecognized failures default to retryable.
func classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	// Check for specific minio error responses first.
	if resp := minio.ToErrorResponse(err); resp.Code != "" {
		switch resp.Code {
		case "NoSuchBucket":
			return wrapError(op, CodeBucketNotFound, false, err)
		case "NoSuchKey", "NotFound":
			return wrapError(op, CodeObjectNotFound, false, err)
		case "AccessDenied":
			return wrapError(op, CodePermissionDenied, false, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return wrapError(op, CodeAuthInvalid, false, err)
		case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError":
			return wrapError(op, CodeThrottled, true, err)
		}
		if resp.StatusCode >= 500 {
			return wrapError(op, CodeRemote, true, err)
		}
	}

	// Fallback to string matching.
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "no such bucket"):
		return wrapError(op, CodeBucketNotFound, false, err)
	case strings.Contains(errStr, "no such key"),
		strings.Contains(errStr, "does not exist"):
		return wrapError(op, CodeObjectNotFound, false, err)
	case strings.Contains(errStr, "access denied"),
		strings.Contains(errStr, "permission"):
		return wrapError(op, CodePermissionDenied, false, err)
	case strings.Contains(errStr, "invalid access key"),
		strings.Contains(errStr, "signature"),
		strings.Contains(errStr, "authentication"):
		return wrapError(op, CodeAuthInvalid, false, err)
	case strings.Contains(errStr, "context canceled"):
		return wrapError(op, CodeTimeout, false, err)
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline"):
		return wrapError(op, CodeTimeout, true, err)
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "unreachable"),
		strings.Contains(errStr, "no such host"):
		return wrapError(op, CodeEndpointUnreachable, true, err)
	}

	return wrapError(op, CodeRemote, true, err)
}
