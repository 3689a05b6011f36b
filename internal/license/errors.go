package license

import "errors"

// CodecError is a license encode/decode failure with a stable code
type CodecError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e CodecError) Error() string {
	return e.Message
}

// Codec errors
var (
	ErrMalformedInput     = CodecError{Code: "MALFORMED_INPUT", Message: "malformed license input"}
	ErrInvalidLength      = CodecError{Code: "INVALID_LENGTH", Message: "invalid license length"}
	ErrUnknownEnumValue   = CodecError{Code: "UNKNOWN_ENUM_VALUE", Message: "unknown enum value"}
	ErrDateParse          = CodecError{Code: "DATE_PARSE_ERROR", Message: "invalid contract date"}
	ErrInvalidAddHwCount  = CodecError{Code: "INVALID_ADDHW_COUNT", Message: "too many additional hardware entries"}
	ErrFieldTooLong       = CodecError{Code: "FIELD_TOO_LONG", Message: "field exceeds its fixed width"}
	ErrUnsupportedVersion = CodecError{Code: "UNSUPPORTED_VERSION", Message: "unsupported license version"}
)

// CodeOf returns the CodecError code wrapped in err, or "" if there is none
func CodeOf(err error) string {
	var ce CodecError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
