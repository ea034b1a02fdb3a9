package errors

// Card API result codes. Zero means success.
const (
	CodeOK                 = 0
	CodeBadParameters      = 400
	CodeSignatureInvalid   = 10010
	CodeSignatureExpired   = 10011
	CodeCardExpired        = 10210
	CodeCardFrozen         = 10212
	CodeDeviceLimit        = 10213
	CodeSessionInvalidated = 10214
	CodeDeviceMismatch     = 10215
)

// Message ids for user-facing texts. The texts themselves live in the
// i18n catalogue.
const (
	MsgCardExpired        = "error.card_expired"
	MsgCardFrozen         = "error.card_frozen"
	MsgDeviceLimit        = "error.device_limit"
	MsgSessionInvalidated = "error.session_invalidated"
	MsgDeviceMismatch     = "error.device_mismatch"
	MsgBadParameters      = "error.bad_parameters"
	MsgSignatureInvalid   = "error.signature_invalid"
	MsgSignatureExpired   = "error.signature_expired"
	MsgVerifyFailed       = "error.verify_failed"
)

var domainMessageIDs = map[int]string{
	CodeCardExpired:        MsgCardExpired,
	CodeCardFrozen:         MsgCardFrozen,
	CodeDeviceLimit:        MsgDeviceLimit,
	CodeSessionInvalidated: MsgSessionInvalidated,
	CodeDeviceMismatch:     MsgDeviceMismatch,
	CodeBadParameters:      MsgBadParameters,
	CodeSignatureInvalid:   MsgSignatureInvalid,
	CodeSignatureExpired:   MsgSignatureExpired,
}

// DomainMessageID returns the message id for a known result code.
func DomainMessageID(code int) (string, bool) {
	id, ok := domainMessageIDs[code]
	return id, ok
}

// KnownDomainCodes lists every code with a fixed message.
func KnownDomainCodes() []int {
	return []int{
		CodeBadParameters,
		CodeSignatureInvalid,
		CodeSignatureExpired,
		CodeCardExpired,
		CodeCardFrozen,
		CodeDeviceLimit,
		CodeSessionInvalidated,
		CodeDeviceMismatch,
	}
}
