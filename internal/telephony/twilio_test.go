package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newFakeTwilio(t *testing.T, handler http.HandlerFunc) (*TwilioProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewTwilioProvider("AC123", "tok", "+15550001111", WithBaseURL(srv.URL))
	return p, srv
}

func TestTwilioProvider_PlaceCall(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotTwiml, gotAMD string
	var gotUser, gotPass string

	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotTwiml = r.PostFormValue("Twiml")
		gotAMD = r.PostFormValue("MachineDetection")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA777","from":"+15550001111","to":"+15559998888","status":"queued","direction":"outbound-api"}`))
	})

	rec, err := p.PlaceCall(context.Background(), OutboundCallRequest{
		To:            "+15559998888",
		StreamURL:     "wss://bridge.example.com/media-stream",
		DetectMachine: true,
	})
	if err != nil {
		t.Fatalf("expected place call to succeed, got %v", err)
	}
	if rec.CallSID != "CA777" || rec.Status != "queued" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if gotPath != "/Accounts/AC123/Calls.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "tok" {
		t.Fatalf("expected basic auth credentials, got %q %q", gotUser, gotPass)
	}
	if gotTo != "+15559998888" || gotFrom != "+15550001111" {
		t.Fatalf("unexpected To/From: %q %q", gotTo, gotFrom)
	}
	if !strings.Contains(gotTwiml, "wss://bridge.example.com/media-stream") {
		t.Fatalf("expected stream TwiML in request, got:\n%s", gotTwiml)
	}
	if gotAMD != "Enable" {
		t.Fatalf("expected machine detection enabled, got %q", gotAMD)
	}
}

func TestTwilioProvider_GetCallParsesTimes(t *testing.T) {
	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"sid": "CA1",
			"status": "completed",
			"start_time": "Mon, 02 Jun 2025 10:00:00 +0000",
			"end_time": "Mon, 02 Jun 2025 10:03:25 +0000",
			"duration": "205",
			"price": "-0.0085",
			"price_unit": "USD"
		}`))
	})

	rec, err := p.GetCall(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("expected get call to succeed, got %v", err)
	}
	if rec.StartedAt == nil || rec.EndedAt == nil {
		t.Fatalf("expected parsed times, got %+v", rec)
	}
	if rec.DurationSeconds != 205 {
		t.Fatalf("expected duration 205, got %d", rec.DurationSeconds)
	}
	if rec.Price != "-0.0085" || rec.Currency != "USD" {
		t.Fatalf("expected price fields, got %+v", rec)
	}
}

func TestTwilioProvider_GetCallNotFound(t *testing.T) {
	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if _, err := p.GetCall(context.Background(), "CA404"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestTwilioProvider_EndCall(t *testing.T) {
	var gotStatus string
	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotStatus = r.PostFormValue("Status")
		w.Write([]byte(`{}`))
	})

	if err := p.EndCall(context.Background(), "CA1"); err != nil {
		t.Fatalf("expected end call to succeed, got %v", err)
	}
	if gotStatus != "completed" {
		t.Fatalf("expected Status=completed, got %q", gotStatus)
	}
}

func TestTwilioProvider_TransferCall(t *testing.T) {
	var gotTwiml string
	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotTwiml = r.PostFormValue("Twiml")
		w.Write([]byte(`{}`))
	})

	err := p.TransferCall(context.Background(), "CA1", "+15551112222", "One moment please.")
	if err != nil {
		t.Fatalf("expected transfer to succeed, got %v", err)
	}
	if !strings.Contains(gotTwiml, "<Dial>+15551112222</Dial>") {
		t.Fatalf("expected dial TwiML, got:\n%s", gotTwiml)
	}
	if !strings.Contains(gotTwiml, "One moment please.") {
		t.Fatalf("expected announcement in TwiML, got:\n%s", gotTwiml)
	}
}

func TestTwilioProvider_ListCalls(t *testing.T) {
	var gotQuery string
	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"calls":[{"sid":"CA1","status":"in-progress"},{"sid":"CA2","status":"in-progress"}]}`))
	})

	calls, err := p.ListCalls(context.Background(), "in-progress", 20)
	if err != nil {
		t.Fatalf("expected list to succeed, got %v", err)
	}
	if len(calls) != 2 || calls[0].CallSID != "CA1" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if !strings.Contains(gotQuery, "Status=in-progress") || !strings.Contains(gotQuery, "PageSize=20") {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestTwilioProvider_SurfacesAPIError(t *testing.T) {
	p, _ := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"The 'To' number is not a valid phone number.","code":21211}`))
	})

	_, err := p.PlaceCall(context.Background(), OutboundCallRequest{To: "junk", StreamURL: "wss://x/s"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected provider error code in message, got %v", err)
	}
}
