// Package telephony adapts the Twilio REST API to the small provider contract
// the verification engine needs: list the numbers the account holds, buy a
// local number wired to the voice webhook, release a number, and delete a
// call-log entry. Numbers found on the account are repointed at this
// deployment's voice webhook when they still carry another URL.
//
// All numbers live under a dedicated sub-account resolved (or created) at
// startup, so releasing inventory never touches numbers owned by the master
// account. The twilio-go client is synchronous; every call is run through
// callWithContext so request deadlines and shutdown are honored.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tbourn/go-dial-verify/internal/config"
)

// ErrNoNumbersAvailable is returned when the provider has no purchasable
// local number for the configured country.
var ErrNoNumbersAvailable = errors.New("no phone numbers available for purchase")

// Number is a phone number held at the provider.
type Number struct {
	Ref         string    // provider handle (incoming phone number SID)
	PhoneNumber string    // E.164
	CreatedAt   time.Time // when the provider provisioned it

	// Routed reports whether the number's voice webhook already points at
	// this deployment.
	Routed bool
}

// numbersAPI is the subset of the v2010 API service used by Twilio.
// *openapi.ApiService satisfies it.
type numbersAPI interface {
	ListIncomingPhoneNumber(params *openapi.ListIncomingPhoneNumberParams) ([]openapi.ApiV2010IncomingPhoneNumber, error)
	ListAvailablePhoneNumberLocal(countryCode string, params *openapi.ListAvailablePhoneNumberLocalParams) ([]openapi.ApiV2010AvailablePhoneNumberLocal, error)
	CreateIncomingPhoneNumber(params *openapi.CreateIncomingPhoneNumberParams) (*openapi.ApiV2010IncomingPhoneNumber, error)
	UpdateIncomingPhoneNumber(sid string, params *openapi.UpdateIncomingPhoneNumberParams) (*openapi.ApiV2010IncomingPhoneNumber, error)
	DeleteIncomingPhoneNumber(sid string, params *openapi.DeleteIncomingPhoneNumberParams) error
	DeleteCall(sid string, params *openapi.DeleteCallParams) error
}

// Twilio implements the provider contract on top of twilio-go.
type Twilio struct {
	api      numbersAPI
	country  string
	voiceURL string
	timeout  time.Duration

	// WebhookToken is the sub-account auth token that Twilio signs webhook
	// requests with.
	WebhookToken string
}

// NewTwilio resolves the sub-account named in cfg (creating it when absent)
// and returns an adapter bound to it. voiceURL is registered as the voice
// webhook on every purchased number.
func NewTwilio(ctx context.Context, cfg config.TwilioConfig, voiceURL string) (*Twilio, error) {
	master := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	master.SetTimeout(cfg.Timeout)

	sub, err := resolveSubAccount(ctx, master.Api, cfg.SubAccountName, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   cfg.AccountSID,
		Password:   cfg.AuthToken,
		AccountSid: sub.SID,
	})
	rc.SetTimeout(cfg.Timeout)

	log.Info().
		Str("subaccount", sub.SID).
		Str("country", cfg.Country).
		Msg("telephony provider ready")

	return &Twilio{
		api:          rc.Api,
		country:      cfg.Country,
		voiceURL:     voiceURL,
		timeout:      cfg.Timeout,
		WebhookToken: sub.AuthToken,
	}, nil
}

// ListNumbers returns every incoming number held by the sub-account.
func (t *Twilio) ListNumbers(ctx context.Context) ([]Number, error) {
	rows, err := callWithContext(ctx, t.timeout, func() ([]openapi.ApiV2010IncomingPhoneNumber, error) {
		return t.api.ListIncomingPhoneNumber(&openapi.ListIncomingPhoneNumberParams{})
	})
	if err != nil {
		return nil, fmt.Errorf("list incoming numbers: %w", err)
	}
	out := make([]Number, 0, len(rows))
	for _, r := range rows {
		if r.Sid == nil || r.PhoneNumber == nil {
			continue
		}
		out = append(out, Number{
			Ref:         *r.Sid,
			PhoneNumber: *r.PhoneNumber,
			CreatedAt:   parseProviderTime(r.DateCreated),
			Routed:      r.VoiceUrl != nil && *r.VoiceUrl == t.voiceURL,
		})
	}
	return out, nil
}

// PurchaseNumber buys the first available local number in the configured
// country and points its voice webhook at the verification endpoint.
func (t *Twilio) PurchaseNumber(ctx context.Context) (*Number, error) {
	search := &openapi.ListAvailablePhoneNumberLocalParams{}
	search.SetVoiceEnabled(true)
	search.SetLimit(1)

	avail, err := callWithContext(ctx, t.timeout, func() ([]openapi.ApiV2010AvailablePhoneNumberLocal, error) {
		return t.api.ListAvailablePhoneNumberLocal(t.country, search)
	})
	if err != nil {
		return nil, fmt.Errorf("search available numbers: %w", err)
	}
	if len(avail) == 0 || avail[0].PhoneNumber == nil {
		return nil, ErrNoNumbersAvailable
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("purchase number: %w", err)
	}
	buy := &openapi.CreateIncomingPhoneNumberParams{}
	buy.SetPhoneNumber(*avail[0].PhoneNumber)
	buy.SetVoiceUrl(t.voiceURL)
	buy.SetVoiceMethod(http.MethodPost)

	// Once sent, the buy completes at the provider whether or not the caller
	// is still waiting, so only the provider timeout may cut it short.
	created, err := callWithContext(context.WithoutCancel(ctx), t.timeout, func() (*openapi.ApiV2010IncomingPhoneNumber, error) {
		return t.api.CreateIncomingPhoneNumber(buy)
	})
	if err != nil {
		return nil, fmt.Errorf("purchase number: %w", err)
	}
	if created == nil || created.Sid == nil || created.PhoneNumber == nil {
		return nil, errors.New("purchase number: empty provider response")
	}

	n := &Number{
		Ref:         *created.Sid,
		PhoneNumber: *created.PhoneNumber,
		CreatedAt:   parseProviderTime(created.DateCreated),
		Routed:      true,
	}
	log.Info().Str("number_ref", n.Ref).Msg("purchased phone number")
	return n, nil
}

// RouteNumber points the number's voice webhook at this deployment.
func (t *Twilio) RouteNumber(ctx context.Context, ref string) error {
	upd := &openapi.UpdateIncomingPhoneNumberParams{}
	upd.SetVoiceUrl(t.voiceURL)
	upd.SetVoiceMethod(http.MethodPost)

	_, err := callWithContext(ctx, t.timeout, func() (*openapi.ApiV2010IncomingPhoneNumber, error) {
		return t.api.UpdateIncomingPhoneNumber(ref, upd)
	})
	if err != nil {
		return fmt.Errorf("route number %s: %w", ref, err)
	}
	return nil
}

// ReleaseNumber relinquishes a number. A number the provider no longer knows
// is treated as already released.
func (t *Twilio) ReleaseNumber(ctx context.Context, ref string) error {
	_, err := callWithContext(ctx, t.timeout, func() (struct{}, error) {
		return struct{}{}, t.api.DeleteIncomingPhoneNumber(ref, &openapi.DeleteIncomingPhoneNumberParams{})
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("release number %s: %w", ref, err)
	}
	return nil
}

// DeleteCallLog removes the provider's record of a call. A call that is
// already gone is not an error.
func (t *Twilio) DeleteCallLog(ctx context.Context, callID string) error {
	_, err := callWithContext(ctx, t.timeout, func() (struct{}, error) {
		return struct{}{}, t.api.DeleteCall(callID, &openapi.DeleteCallParams{})
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete call %s: %w", callID, err)
	}
	return nil
}

// IsNotFound reports whether err is a Twilio 404.
func IsNotFound(err error) bool {
	var tErr *client.TwilioRestError
	return errors.As(err, &tErr) && tErr.Status == http.StatusNotFound
}

// parseProviderTime parses Twilio's RFC 2822 timestamps. Unparseable or
// missing values fall back to the current time.
func parseProviderTime(s *string) time.Time {
	if s != nil {
		if t, err := time.Parse(time.RFC1123Z, *s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// callWithContext runs a blocking provider call and returns early when ctx
// is done or timeout elapses. The abandoned call finishes in the background;
// its result is discarded.
func callWithContext[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
