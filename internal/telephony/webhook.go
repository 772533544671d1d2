package telephony

import (
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// SignatureValidator checks the X-Twilio-Signature header of webhook
// requests against the sub-account auth token.
type SignatureValidator struct {
	rv client.RequestValidator
}

// NewSignatureValidator returns a validator for requests signed with token.
func NewSignatureValidator(token string) *SignatureValidator {
	return &SignatureValidator{rv: client.NewRequestValidator(token)}
}

// Validate reports whether signature matches the full public URL of the
// webhook and its form parameters.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.rv.Validate(url, params, signature)
}

// RejectTwiML renders the voice response that declines every call. The
// caller number arrives with the webhook itself.
func RejectTwiML() (string, error) {
	return twiml.Voice([]twiml.Element{&twiml.VoiceReject{}})
}
