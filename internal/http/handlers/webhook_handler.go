package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dial-verify/internal/http/middleware"
	"github.com/tbourn/go-dial-verify/internal/telephony"
)

// HeaderTwilioSignature carries the provider's HMAC over URL and form body.
const HeaderTwilioSignature = "X-Twilio-Signature"

// VoiceWebhook godoc
// @ID          voiceWebhook
// @Summary     Inbound voice call webhook
// @Description Called by the telephony provider for every inbound call. Completes the verification holding the dialed number and always answers with a TwiML reject so the call is never billed as answered.
// @Tags        Webhooks
// @Accept      x-www-form-urlencoded
// @Produce     xml
//
// @Param       X-Twilio-Signature  header    string  true   "Request signature"
// @Param       Called              formData  string  true   "Dialed number (E.164)"
// @Param       Caller              formData  string  false  "Caller number (E.164)"
// @Param       CallSid             formData  string  true   "Provider call ID"
//
// @Success     200  {string}  string  "<Response><Reject/></Response>"
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed form body"
// @Failure     403  {object}  handlers.ErrorResponse  "Bad signature"
// @Router      /twilio/voice [post]
func (h *Handlers) VoiceWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid form body")
		return
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for k, vv := range c.Request.PostForm {
		if len(vv) > 0 {
			params[k] = vv[0]
		}
	}

	if h.verifier != nil && !h.verifier.Validate(h.webhookURL, params, c.GetHeader(HeaderTwilioSignature)) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid webhook signature")
		return
	}

	lg := middleware.LoggerFrom(c)
	callID := params["CallSid"]
	outcome, err := h.matcher.Finalize(c.Request.Context(), params["Called"], params["Caller"], callID)
	if err != nil {
		// The call is rejected either way; the failure is only logged.
		_ = c.Error(err)
		lg.Error().Err(err).Str("call_id", callID).Msg("finalize verification")
	} else {
		lg.Info().Str("call_id", callID).Str("outcome", string(outcome)).Msg("inbound call handled")
	}

	body, err := telephony.RejectTwiML()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "render response")
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(body))
}
