package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// accountsAPI is the subset of the v2010 API service used to manage the
// sub-account.
type accountsAPI interface {
	ListAccount(params *openapi.ListAccountParams) ([]openapi.ApiV2010Account, error)
	CreateAccount(params *openapi.CreateAccountParams) (*openapi.ApiV2010Account, error)
}

// subAccount identifies the Twilio sub-account that owns leased numbers.
type subAccount struct {
	SID       string
	AuthToken string
}

// resolveSubAccount returns the active sub-account named name, creating it
// on first run.
func resolveSubAccount(ctx context.Context, api accountsAPI, name string, timeout time.Duration) (*subAccount, error) {
	list := &openapi.ListAccountParams{}
	list.SetFriendlyName(name)
	list.SetStatus("active")
	list.SetLimit(1)

	found, err := callWithContext(ctx, timeout, func() ([]openapi.ApiV2010Account, error) {
		return api.ListAccount(list)
	})
	if err != nil {
		return nil, fmt.Errorf("list sub-accounts: %w", err)
	}
	if len(found) > 0 {
		return toSubAccount(&found[0])
	}

	create := &openapi.CreateAccountParams{}
	create.SetFriendlyName(name)
	acc, err := callWithContext(ctx, timeout, func() (*openapi.ApiV2010Account, error) {
		return api.CreateAccount(create)
	})
	if err != nil {
		return nil, fmt.Errorf("create sub-account %q: %w", name, err)
	}
	log.Info().Str("name", name).Msg("created telephony sub-account")
	return toSubAccount(acc)
}

func toSubAccount(a *openapi.ApiV2010Account) (*subAccount, error) {
	if a == nil || a.Sid == nil || a.AuthToken == nil {
		return nil, errors.New("sub-account response missing sid or auth token")
	}
	return &subAccount{SID: *a.Sid, AuthToken: *a.AuthToken}, nil
}
