package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-consent/authz"
)

// mockClient implements AuthorizationClient with injectable behavior and
// call counting.
type mockClient struct {
	mu sync.Mutex

	fetchClientInfoFunc func(ctx context.Context, clientID string) (*authz.ClientInfo, error)
	submitDecisionFunc  func(ctx context.Context, request *authz.Request, action authz.Action, bearerToken string) (*authz.Decision, error)

	fetchCalls  int
	submitCalls int
}

func (m *mockClient) FetchClientInfo(ctx context.Context, clientID string) (*authz.ClientInfo, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()
	if m.fetchClientInfoFunc != nil {
		return m.fetchClientInfoFunc(ctx, clientID)
	}
	return &authz.ClientInfo{ClientID: clientID, Name: "Test App"}, nil
}

func (m *mockClient) SubmitDecision(ctx context.Context, request *authz.Request, action authz.Action, bearerToken string) (*authz.Decision, error) {
	m.mu.Lock()
	m.submitCalls++
	m.mu.Unlock()
	if m.submitDecisionFunc != nil {
		return m.submitDecisionFunc(ctx, request, action, bearerToken)
	}
	return &authz.Decision{RedirectURL: "https://app.example.com/callback?code=abc"}, nil
}

func (m *mockClient) counts() (fetch, submit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls, m.submitCalls
}

// mockLedger implements ApprovalLedger backed by a plain map.
type mockLedger struct {
	mu        sync.Mutex
	approved  map[string]bool
	recordErr error
	records   int
}

func newMockLedger() *mockLedger {
	return &mockLedger{approved: make(map[string]bool)}
}

func (m *mockLedger) IsApproved(_ context.Context, userID, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approved[userID+"/"+clientID]
}

func (m *mockLedger) RecordApproval(_ context.Context, userID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records++
	if m.recordErr != nil {
		return m.recordErr
	}
	m.approved[userID+"/"+clientID] = true
	return nil
}

func testSession() *Session {
	return &Session{
		UserID: "user1",
		Token: &oauth2.Token{
			AccessToken: "test-access-token",
			Expiry:      time.Now().Add(time.Hour),
		},
	}
}

func testRequest() *authz.Request {
	return &authz.Request{
		ClientID:     "client-a",
		RedirectURI:  "https://app.example.com/callback",
		ResponseType: "code",
		Scope:        "openid profile",
		State:        "xyz123",
	}
}

func newTestService(t *testing.T, client AuthorizationClient, ledger ApprovalLedger) *Service {
	t.Helper()
	svc, err := NewService(&Config{Client: client, Ledger: ledger})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestNewService(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Error("NewService(nil) expected error")
	}
	if _, err := NewService(&Config{Ledger: newMockLedger()}); err == nil {
		t.Error("NewService() without client expected error")
	}
	if _, err := NewService(&Config{Client: &mockClient{}}); err == nil {
		t.Error("NewService() without ledger expected error")
	}
}

func TestBeginInvalidRequest(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	svc := newTestService(t, client, newMockLedger())

	tests := []struct {
		name    string
		request *authz.Request
	}{
		{"nil request", nil},
		{"missing client_id", &authz.Request{RedirectURI: "https://a", ResponseType: "code"}},
		{"missing redirect_uri", &authz.Request{ClientID: "c", ResponseType: "code"}},
		{"missing response_type", &authz.Request{ClientID: "c", RedirectURI: "https://a"}},
		{"all missing", &authz.Request{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := svc.Begin(ctx, testSession(), tt.request)

			if f.State() != StateFailed {
				t.Errorf("State() = %v, want %v", f.State(), StateFailed)
			}
			if f.Failure() == nil || f.Failure().Message != MsgInvalidRequest {
				t.Errorf("Failure() = %+v, want message %q", f.Failure(), MsgInvalidRequest)
			}
		})
	}

	// An invalid request never reaches the network.
	fetch, submit := client.counts()
	if fetch != 0 || submit != 0 {
		t.Errorf("backend calls = %d fetch, %d submit, want 0, 0", fetch, submit)
	}
}

func TestBeginUnauthenticated(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	svc := newTestService(t, client, newMockLedger())

	sessions := []struct {
		name    string
		session *Session
	}{
		{"nil session", nil},
		{"no user", &Session{Token: &oauth2.Token{AccessToken: "t"}}},
		{"no token", &Session{UserID: "user1"}},
		{"expired token", &Session{UserID: "user1", Token: &oauth2.Token{
			AccessToken: "t",
			Expiry:      time.Now().Add(-time.Hour),
		}}},
	}

	for _, tt := range sessions {
		t.Run(tt.name, func(t *testing.T) {
			f := svc.Begin(ctx, tt.session, testRequest())

			if f.State() != StateFailed {
				t.Errorf("State() = %v, want %v", f.State(), StateFailed)
			}
			if f.Failure() == nil || f.Failure().Message != MsgNotAuthenticated {
				t.Errorf("Failure() = %+v, want message %q", f.Failure(), MsgNotAuthenticated)
			}
		})
	}
}

func TestBeginPromptReady(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	svc := newTestService(t, client, newMockLedger())

	f := svc.Begin(ctx, testSession(), testRequest())

	if f.State() != StatePromptReady {
		t.Fatalf("State() = %v, want %v", f.State(), StatePromptReady)
	}
	if f.ClientInfo() == nil || f.ClientInfo().Name != "Test App" {
		t.Errorf("ClientInfo() = %+v, want name %q", f.ClientInfo(), "Test App")
	}

	fetch, submit := client.counts()
	if fetch != 1 {
		t.Errorf("fetch calls = %d, want 1", fetch)
	}
	if submit != 0 {
		t.Errorf("submit calls = %d, want 0 before a decision", submit)
	}
}

func TestBeginClientLookupFails(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		fetchClientInfoFunc: func(_ context.Context, clientID string) (*authz.ClientInfo, error) {
			return nil, &authz.LookupError{ClientID: clientID, StatusCode: 404}
		},
	}
	svc := newTestService(t, client, newMockLedger())

	f := svc.Begin(ctx, testSession(), testRequest())

	if f.State() != StateFailed {
		t.Errorf("State() = %v, want %v", f.State(), StateFailed)
	}
	if f.Failure() == nil || f.Failure().Message != authz.MsgClientLookupFailed {
		t.Errorf("Failure() = %+v, want message %q", f.Failure(), authz.MsgClientLookupFailed)
	}
}

func TestBeginAutoApproval(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	ledger := newMockLedger()
	ledger.approved["user1/client-a"] = true
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())

	if f.State() != StateRedirecting {
		t.Fatalf("State() = %v, want %v", f.State(), StateRedirecting)
	}
	if f.RedirectURL() != "https://app.example.com/callback?code=abc" {
		t.Errorf("RedirectURL() = %q", f.RedirectURL())
	}

	// A ledger hit skips the metadata fetch entirely.
	fetch, submit := client.counts()
	if fetch != 0 {
		t.Errorf("fetch calls = %d, want 0 on auto-approval", fetch)
	}
	if submit != 1 {
		t.Errorf("submit calls = %d, want 1", submit)
	}

	// The record is already fresh; the silent path writes nothing new.
	if ledger.records != 0 {
		t.Errorf("ledger writes = %d, want 0 on auto-approval", ledger.records)
	}
}

func TestBeginAutoApprovalWithoutRedirectDegrades(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, _ *authz.Request, _ authz.Action, _ string) (*authz.Decision, error) {
			return &authz.Decision{}, nil
		},
	}
	ledger := newMockLedger()
	ledger.approved["user1/client-a"] = true
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())

	if f.State() != StatePromptReady {
		t.Fatalf("State() = %v, want %v when the shortcut produced no redirect", f.State(), StatePromptReady)
	}
	if f.ClientInfo() == nil {
		t.Error("ClientInfo() = nil, want metadata for the prompt")
	}

	fetch, _ := client.counts()
	if fetch != 1 {
		t.Errorf("fetch calls = %d, want 1 on the fallback path", fetch)
	}
}

func TestBeginAutoApprovalDegradesToPrompt(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, _ *authz.Request, action authz.Action, _ string) (*authz.Decision, error) {
			return nil, &authz.SubmitError{Action: action, StatusCode: 500}
		},
	}
	ledger := newMockLedger()
	ledger.approved["user1/client-a"] = true
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())

	// The failed shortcut is invisible: the user gets the normal prompt
	// with no error message.
	if f.State() != StatePromptReady {
		t.Fatalf("State() = %v, want %v", f.State(), StatePromptReady)
	}
	if f.ClientInfo() == nil {
		t.Error("ClientInfo() = nil, want metadata for the prompt")
	}
	if f.SubmitError() != "" {
		t.Errorf("SubmitError() = %q, want empty after silent degradation", f.SubmitError())
	}
	if f.Failure() != nil {
		t.Errorf("Failure() = %+v, want nil", f.Failure())
	}

	fetch, _ := client.counts()
	if fetch != 1 {
		t.Errorf("fetch calls = %d, want 1 on the fallback path", fetch)
	}
}

func TestBeginInteractiveSkipsShortcut(t *testing.T) {
	ctx := context.Background()

	var submitted []authz.Action
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, _ *authz.Request, action authz.Action, _ string) (*authz.Decision, error) {
			submitted = append(submitted, action)
			return &authz.Decision{RedirectURL: "https://app.example.com/callback?error=access_denied"}, nil
		},
	}
	ledger := newMockLedger()
	ledger.approved["user1/client-a"] = true
	svc := newTestService(t, client, ledger)

	f := svc.BeginInteractive(ctx, testSession(), testRequest())

	// A fresh ledger record must not short-circuit an interactive flow.
	if f.State() != StatePromptReady {
		t.Fatalf("State() = %v, want %v", f.State(), StatePromptReady)
	}
	fetch, submit := client.counts()
	if fetch != 1 {
		t.Errorf("fetch calls = %d, want 1", fetch)
	}
	if submit != 0 {
		t.Errorf("submit calls = %d, want 0 before a decision", submit)
	}

	if err := f.Deny(ctx); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}
	if len(submitted) != 1 || submitted[0] != authz.ActionDeny {
		t.Errorf("submitted actions = %v, want exactly one deny", submitted)
	}
}

func TestApproveRecordsAndRedirects(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	ledger := newMockLedger()
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if f.State() != StateRedirecting {
		t.Errorf("State() = %v, want %v", f.State(), StateRedirecting)
	}
	if !ledger.IsApproved(ctx, "user1", "client-a") {
		t.Error("approval was not recorded in the ledger")
	}
	if f.RedirectURL() == "" {
		t.Error("RedirectURL() = empty, want the backend target")
	}
}

func TestDenyNeverRecords(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, request *authz.Request, action authz.Action, _ string) (*authz.Decision, error) {
			if action != authz.ActionDeny {
				t.Errorf("submitted action = %q, want deny", action)
			}
			return &authz.Decision{RedirectURL: "https://app.example.com/callback?error=access_denied&state=" + request.State}, nil
		},
	}
	ledger := newMockLedger()
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())
	if err := f.Deny(ctx); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}

	if f.State() != StateRedirecting {
		t.Errorf("State() = %v, want %v", f.State(), StateRedirecting)
	}
	if ledger.records != 0 {
		t.Errorf("ledger writes = %d, want 0 on denial", ledger.records)
	}
	if ledger.IsApproved(ctx, "user1", "client-a") {
		t.Error("denial must not create an approval record")
	}
}

func TestSubmitFailureIsRecoverable(t *testing.T) {
	ctx := context.Background()
	fail := true
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, request *authz.Request, action authz.Action, _ string) (*authz.Decision, error) {
			if fail {
				return nil, &authz.SubmitError{Action: action, StatusCode: 502}
			}
			return &authz.Decision{RedirectURL: "https://app.example.com/callback?code=abc"}, nil
		},
	}
	ledger := newMockLedger()
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())
	info := f.ClientInfo()

	if err := f.Approve(ctx); err == nil {
		t.Fatal("Approve() expected error on failed submission")
	}

	if f.State() != StatePromptReady {
		t.Errorf("State() = %v, want %v after failed submission", f.State(), StatePromptReady)
	}
	if f.SubmitError() != authz.MsgSubmitFailed {
		t.Errorf("SubmitError() = %q, want %q", f.SubmitError(), authz.MsgSubmitFailed)
	}
	if f.ClientInfo() != info {
		t.Error("client metadata was lost across the failed submission")
	}
	if ledger.records != 0 {
		t.Errorf("ledger writes = %d, want 0 after failed approval", ledger.records)
	}

	// Retry succeeds and clears the error.
	fail = false
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() retry error = %v", err)
	}
	if f.State() != StateRedirecting {
		t.Errorf("State() = %v, want %v after retry", f.State(), StateRedirecting)
	}
	if f.SubmitError() != "" {
		t.Errorf("SubmitError() = %q, want empty after successful retry", f.SubmitError())
	}
	if !ledger.IsApproved(ctx, "user1", "client-a") {
		t.Error("approval was not recorded after the retry")
	}
}

func TestConcurrentDecisionsSingleSubmission(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, _ *authz.Request, _ authz.Action, _ string) (*authz.Decision, error) {
			<-release
			return &authz.Decision{}, nil
		},
	}
	svc := newTestService(t, client, newMockLedger())

	f := svc.Begin(ctx, testSession(), testRequest())

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.Approve(ctx) }()

	// Wait until the first decision holds the submitting state.
	deadline := time.After(2 * time.Second)
	for f.State() != StateSubmitting {
		select {
		case <-deadline:
			t.Fatal("flow never entered the submitting state")
		case <-time.After(time.Millisecond):
		}
	}

	if err := f.Approve(ctx); !errors.Is(err, ErrDecisionInFlight) {
		t.Errorf("second Approve() error = %v, want ErrDecisionInFlight", err)
	}
	if err := f.Deny(ctx); !errors.Is(err, ErrDecisionInFlight) {
		t.Errorf("Deny() during submission error = %v, want ErrDecisionInFlight", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}

	_, submit := client.counts()
	if submit != 1 {
		t.Errorf("submit calls = %d, want exactly 1", submit)
	}
}

func TestDecideAfterTerminal(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	svc := newTestService(t, client, newMockLedger())

	f := svc.Begin(ctx, testSession(), testRequest())
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if err := f.Approve(ctx); !errors.Is(err, ErrNotAwaitingDecision) {
		t.Errorf("Approve() after redirecting error = %v, want ErrNotAwaitingDecision", err)
	}

	_, submit := client.counts()
	if submit != 1 {
		t.Errorf("submit calls = %d, want 1", submit)
	}
}

func TestRequestParametersForwardedVerbatim(t *testing.T) {
	ctx := context.Background()
	request := testRequest()

	var got *authz.Request
	var gotToken string
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, r *authz.Request, _ authz.Action, bearerToken string) (*authz.Decision, error) {
			got = r
			gotToken = bearerToken
			return &authz.Decision{}, nil
		},
	}
	svc := newTestService(t, client, newMockLedger())

	f := svc.Begin(ctx, testSession(), request)
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if got == nil {
		t.Fatal("backend never received the request")
	}
	if *got != *request {
		t.Errorf("submitted request = %+v, want %+v", got, request)
	}
	if gotToken != "test-access-token" {
		t.Errorf("bearer token = %q, want the session access token", gotToken)
	}
}

func TestApproveWithoutRedirectIsNoop(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, _ *authz.Request, _ authz.Action, _ string) (*authz.Decision, error) {
			return &authz.Decision{}, nil
		},
	}
	ledger := newMockLedger()
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() error = %v, a missing redirect target is not an error", err)
	}

	// The call succeeded, so the approval is recorded; with nowhere to
	// send the user the flow returns to the prompt without an error.
	if f.State() != StatePromptReady {
		t.Errorf("State() = %v, want %v", f.State(), StatePromptReady)
	}
	if f.SubmitError() != "" {
		t.Errorf("SubmitError() = %q, want empty", f.SubmitError())
	}
	if f.Failure() != nil {
		t.Errorf("Failure() = %+v, want nil", f.Failure())
	}
	if !ledger.IsApproved(ctx, "user1", "client-a") {
		t.Error("approval was not recorded on a successful no-op submission")
	}
}

func TestUnsafeRedirectFailsFlow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{"javascript scheme", "javascript:alert(1)"},
		{"data scheme", "data:text/html,<script>alert(1)</script>"},
		{"plain http", "http://app.example.com/callback"},
		{"fragment", "https://app.example.com/callback#token=x"},
		{"relative", "/callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{
				submitDecisionFunc: func(_ context.Context, _ *authz.Request, _ authz.Action, _ string) (*authz.Decision, error) {
					return &authz.Decision{RedirectURL: tt.url}, nil
				},
			}
			svc := newTestService(t, client, newMockLedger())

			f := svc.Begin(ctx, testSession(), testRequest())
			if err := f.Approve(ctx); err != nil {
				t.Fatalf("Approve() error = %v", err)
			}

			if f.State() != StateFailed {
				t.Errorf("State() = %v, want %v", f.State(), StateFailed)
			}
			if f.RedirectURL() != "" {
				t.Errorf("RedirectURL() = %q, want empty for an unsafe target", f.RedirectURL())
			}
			if f.Failure() == nil || f.Failure().Message != authz.MsgSubmitFailed {
				t.Errorf("Failure() = %+v, want message %q", f.Failure(), authz.MsgSubmitFailed)
			}
		})
	}
}

func TestHTTPRedirectAllowedInDevelopment(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		submitDecisionFunc: func(_ context.Context, _ *authz.Request, _ authz.Action, _ string) (*authz.Decision, error) {
			return &authz.Decision{RedirectURL: "http://localhost:8080/callback"}, nil
		},
	}
	svc, err := NewService(&Config{Client: client, Ledger: newMockLedger(), AllowHTTPRedirects: true})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	f := svc.Begin(ctx, testSession(), testRequest())
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if f.RedirectURL() != "http://localhost:8080/callback" {
		t.Errorf("RedirectURL() = %q, want the http target kept", f.RedirectURL())
	}
}

func TestLedgerWriteFailureStillRedirects(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	ledger := newMockLedger()
	ledger.recordErr = errors.New("store unavailable")
	svc := newTestService(t, client, ledger)

	f := svc.Begin(ctx, testSession(), testRequest())
	if err := f.Approve(ctx); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	// The backend accepted the approval; a broken ledger only costs the
	// shortcut on the next visit.
	if f.State() != StateRedirecting {
		t.Errorf("State() = %v, want %v", f.State(), StateRedirecting)
	}
}
