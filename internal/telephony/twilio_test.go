package telephony

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeNumbersAPI struct {
	incoming  []openapi.ApiV2010IncomingPhoneNumber
	available []openapi.ApiV2010AvailablePhoneNumberLocal
	listErr   error
	createErr error
	updateErr error
	deleteErr error
	onBuy     func()

	gotCountry string
	gotBuy     *openapi.CreateIncomingPhoneNumberParams
	routed     map[string]string
	deleted    []string
	calls      []string
	block      chan struct{}
}

func (f *fakeNumbersAPI) ListIncomingPhoneNumber(*openapi.ListIncomingPhoneNumberParams) ([]openapi.ApiV2010IncomingPhoneNumber, error) {
	if f.block != nil {
		<-f.block
	}
	return f.incoming, f.listErr
}

func (f *fakeNumbersAPI) ListAvailablePhoneNumberLocal(country string, _ *openapi.ListAvailablePhoneNumberLocalParams) ([]openapi.ApiV2010AvailablePhoneNumberLocal, error) {
	f.gotCountry = country
	return f.available, f.listErr
}

func (f *fakeNumbersAPI) CreateIncomingPhoneNumber(p *openapi.CreateIncomingPhoneNumberParams) (*openapi.ApiV2010IncomingPhoneNumber, error) {
	f.gotBuy = p
	if f.onBuy != nil {
		f.onBuy()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	sid, created := "PNnew", "Mon, 15 Jan 2024 13:45:00 +0000"
	return &openapi.ApiV2010IncomingPhoneNumber{Sid: &sid, PhoneNumber: p.PhoneNumber, DateCreated: &created}, nil
}

func (f *fakeNumbersAPI) UpdateIncomingPhoneNumber(sid string, p *openapi.UpdateIncomingPhoneNumberParams) (*openapi.ApiV2010IncomingPhoneNumber, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.routed == nil {
		f.routed = map[string]string{}
	}
	f.routed[sid] = *p.VoiceUrl + " " + *p.VoiceMethod
	return &openapi.ApiV2010IncomingPhoneNumber{Sid: &sid, VoiceUrl: p.VoiceUrl}, nil
}

func (f *fakeNumbersAPI) DeleteIncomingPhoneNumber(sid string, _ *openapi.DeleteIncomingPhoneNumberParams) error {
	f.deleted = append(f.deleted, sid)
	return f.deleteErr
}

func (f *fakeNumbersAPI) DeleteCall(sid string, _ *openapi.DeleteCallParams) error {
	f.calls = append(f.calls, sid)
	return f.deleteErr
}

func sp(s string) *string { return &s }

func newTestTwilio(api numbersAPI) *Twilio {
	return &Twilio{api: api, country: "US", voiceURL: "https://example.test/twilio/voice", timeout: time.Second}
}

func TestListNumbers_MapsAndSkipsIncomplete(t *testing.T) {
	api := &fakeNumbersAPI{incoming: []openapi.ApiV2010IncomingPhoneNumber{
		{Sid: sp("PN1"), PhoneNumber: sp("+15550000001"), DateCreated: sp("Tue, 02 Jan 2024 10:00:00 +0000")},
		{Sid: sp("PN2")},
	}}
	got, err := newTestTwilio(api).ListNumbers(context.Background())
	if err != nil {
		t.Fatalf("ListNumbers: %v", err)
	}
	if len(got) != 1 || got[0].Ref != "PN1" || got[0].PhoneNumber != "+15550000001" {
		t.Fatalf("unexpected numbers: %+v", got)
	}
	want := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if !got[0].CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v; want %v", got[0].CreatedAt, want)
	}
}

func TestListNumbers_PropagatesError(t *testing.T) {
	api := &fakeNumbersAPI{listErr: errors.New("boom")}
	if _, err := newTestTwilio(api).ListNumbers(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPurchaseNumber_BuysFirstAvailableWithWebhook(t *testing.T) {
	api := &fakeNumbersAPI{available: []openapi.ApiV2010AvailablePhoneNumberLocal{
		{PhoneNumber: sp("+15557654321")},
	}}
	n, err := newTestTwilio(api).PurchaseNumber(context.Background())
	if err != nil {
		t.Fatalf("PurchaseNumber: %v", err)
	}
	if n.Ref != "PNnew" || n.PhoneNumber != "+15557654321" {
		t.Fatalf("unexpected number: %+v", n)
	}
	if api.gotCountry != "US" {
		t.Fatalf("searched country %q; want US", api.gotCountry)
	}
	if api.gotBuy == nil || api.gotBuy.VoiceUrl == nil || *api.gotBuy.VoiceUrl != "https://example.test/twilio/voice" {
		t.Fatalf("voice url not set on purchase: %+v", api.gotBuy)
	}
}

func TestPurchaseNumber_CompletesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeNumbersAPI{available: []openapi.ApiV2010AvailablePhoneNumberLocal{
		{PhoneNumber: sp("+15557654321")},
	}}
	// The browser goes away while the provider is still buying.
	api.onBuy = func() {
		cancel()
		time.Sleep(50 * time.Millisecond)
	}

	n, err := newTestTwilio(api).PurchaseNumber(ctx)
	if err != nil {
		t.Fatalf("purchase abandoned on cancel: %v", err)
	}
	if n == nil || n.Ref != "PNnew" {
		t.Fatalf("bought number not returned: %+v", n)
	}
}

func TestListNumbers_ReportsRouting(t *testing.T) {
	api := &fakeNumbersAPI{incoming: []openapi.ApiV2010IncomingPhoneNumber{
		{Sid: sp("PN1"), PhoneNumber: sp("+15550000001"), VoiceUrl: sp("https://example.test/twilio/voice")},
		{Sid: sp("PN2"), PhoneNumber: sp("+15550000002"), VoiceUrl: sp("https://old.example.test/twilio")},
		{Sid: sp("PN3"), PhoneNumber: sp("+15550000003")},
	}}
	got, err := newTestTwilio(api).ListNumbers(context.Background())
	if err != nil {
		t.Fatalf("ListNumbers: %v", err)
	}
	want := map[string]bool{"PN1": true, "PN2": false, "PN3": false}
	for _, n := range got {
		if n.Routed != want[n.Ref] {
			t.Fatalf("%s routed = %v; want %v", n.Ref, n.Routed, want[n.Ref])
		}
	}
}

func TestRouteNumber_PointsVoiceWebhookHere(t *testing.T) {
	api := &fakeNumbersAPI{}
	tw := newTestTwilio(api)

	if err := tw.RouteNumber(context.Background(), "PN2"); err != nil {
		t.Fatalf("RouteNumber: %v", err)
	}
	if got := api.routed["PN2"]; got != "https://example.test/twilio/voice POST" {
		t.Fatalf("voice webhook = %q", got)
	}

	api.updateErr = &client.TwilioRestError{Status: http.StatusForbidden}
	if err := tw.RouteNumber(context.Background(), "PN3"); err == nil {
		t.Fatalf("expected error from provider")
	}
}

func TestPurchaseNumber_NoneAvailable(t *testing.T) {
	api := &fakeNumbersAPI{}
	_, err := newTestTwilio(api).PurchaseNumber(context.Background())
	if !errors.Is(err, ErrNoNumbersAvailable) {
		t.Fatalf("expected ErrNoNumbersAvailable, got %v", err)
	}
	if api.gotBuy != nil {
		t.Fatalf("must not attempt purchase when nothing is available")
	}
}

func TestReleaseNumber_NotFoundIsSuccess(t *testing.T) {
	api := &fakeNumbersAPI{deleteErr: &client.TwilioRestError{Status: http.StatusNotFound}}
	tw := newTestTwilio(api)
	if err := tw.ReleaseNumber(context.Background(), "PN1"); err != nil {
		t.Fatalf("expected nil on 404, got %v", err)
	}
	if err := tw.DeleteCallLog(context.Background(), "CA1"); err != nil {
		t.Fatalf("expected nil on 404, got %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "PN1" || len(api.calls) != 1 || api.calls[0] != "CA1" {
		t.Fatalf("unexpected calls: deleted=%v calls=%v", api.deleted, api.calls)
	}
}

func TestReleaseNumber_OtherErrorsPropagate(t *testing.T) {
	api := &fakeNumbersAPI{deleteErr: &client.TwilioRestError{Status: http.StatusInternalServerError}}
	if err := newTestTwilio(api).ReleaseNumber(context.Background(), "PN1"); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestCallWithContext_HonorsCancellation(t *testing.T) {
	api := &fakeNumbersAPI{block: make(chan struct{})}
	defer close(api.block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestTwilio(api).ListNumbers(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCallWithContext_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	_, err := callWithContext(context.Background(), 10*time.Millisecond, func() (int, error) {
		<-block
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestParseProviderTime_Fallback(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	if got := parseProviderTime(sp("not a date")); got.Before(before) {
		t.Fatalf("expected fallback to now, got %v", got)
	}
	if got := parseProviderTime(nil); got.Before(before) {
		t.Fatalf("expected fallback to now for nil, got %v", got)
	}
}

type fakeAccountsAPI struct {
	existing []openapi.ApiV2010Account
	created  *openapi.ApiV2010Account
	gotName  string
}

func (f *fakeAccountsAPI) ListAccount(p *openapi.ListAccountParams) ([]openapi.ApiV2010Account, error) {
	if p.FriendlyName != nil {
		f.gotName = *p.FriendlyName
	}
	return f.existing, nil
}

func (f *fakeAccountsAPI) CreateAccount(p *openapi.CreateAccountParams) (*openapi.ApiV2010Account, error) {
	f.created = &openapi.ApiV2010Account{Sid: sp("ACnew"), AuthToken: sp("tok-new"), FriendlyName: p.FriendlyName}
	return f.created, nil
}

func TestResolveSubAccount_ReusesExisting(t *testing.T) {
	api := &fakeAccountsAPI{existing: []openapi.ApiV2010Account{{Sid: sp("ACold"), AuthToken: sp("tok-old")}}}
	sub, err := resolveSubAccount(context.Background(), api, "dial2verify", time.Second)
	if err != nil {
		t.Fatalf("resolveSubAccount: %v", err)
	}
	if sub.SID != "ACold" || sub.AuthToken != "tok-old" || api.created != nil {
		t.Fatalf("expected existing account reused, got %+v created=%v", sub, api.created)
	}
	if api.gotName != "dial2verify" {
		t.Fatalf("searched name %q", api.gotName)
	}
}

func TestResolveSubAccount_CreatesWhenMissing(t *testing.T) {
	api := &fakeAccountsAPI{}
	sub, err := resolveSubAccount(context.Background(), api, "dial2verify", time.Second)
	if err != nil {
		t.Fatalf("resolveSubAccount: %v", err)
	}
	if sub.SID != "ACnew" || sub.AuthToken != "tok-new" {
		t.Fatalf("unexpected sub-account: %+v", sub)
	}
}
