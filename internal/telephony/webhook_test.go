package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

func signForm(secret, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	form := url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15551234567"},
		"To":      {"+15557654321"},
	}
	fullURL := "https://bridge.example.com/webhook/voice"
	sig := signForm("token-1", fullURL, form)

	if !ValidateSignature("token-1", fullURL, form, sig) {
		t.Fatal("expected valid signature to be accepted")
	}
	if ValidateSignature("token-2", fullURL, form, sig) {
		t.Fatal("expected wrong token to be rejected")
	}
	if ValidateSignature("token-1", fullURL, form, "bogus") {
		t.Fatal("expected wrong signature to be rejected")
	}
	if ValidateSignature("token-1", fullURL, form, "") {
		t.Fatal("expected empty signature to be rejected")
	}
}

type recordingController struct {
	mu         sync.Mutex
	accepted   []string
	terminated []string
	acceptErr  error
}

func (r *recordingController) Accept(callID string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acceptErr != nil {
		return r.acceptErr
	}
	r.accepted = append(r.accepted, callID)
	return nil
}

func (r *recordingController) Terminate(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, callID)
}

type fakeLimiter struct {
	mu       sync.Mutex
	allow    bool
	acquired []string
	released []string
}

func (l *fakeLimiter) Acquire(_ context.Context, callID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allow {
		l.acquired = append(l.acquired, callID)
	}
	return l.allow, nil
}

func (l *fakeLimiter) Release(_ context.Context, callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, callID)
}

func newWebhookRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook/voice", h.HandleVoice)
	r.POST("/webhook/fallback", h.HandleFallback)
	r.POST("/webhook/status", h.HandleStatus)
	r.POST("/webhook/recording", h.HandleRecording)
	return r
}

func postForm(t *testing.T, r http.Handler, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleVoice_AcceptsAndStreams(t *testing.T) {
	ctrl := &recordingController{}
	h := WebhookHandler{
		Controller: ctrl,
		StreamURL:  "wss://bridge.example.com/media-stream",
	}
	r := newWebhookRouter(h)

	form := url.Values{
		"CallSid":   {"CA123"},
		"From":      {"+15551234567"},
		"To":        {"+15557654321"},
		"Direction": {"inbound"},
	}
	w := postForm(t, r, "/webhook/voice", form, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "wss://bridge.example.com/media-stream") {
		t.Fatalf("expected stream url in TwiML, got:\n%s", w.Body.String())
	}
	if len(ctrl.accepted) != 1 || ctrl.accepted[0] != "CA123" {
		t.Fatalf("expected CA123 accepted, got %v", ctrl.accepted)
	}
}

func TestHandleVoice_RejectsWhenCapReached(t *testing.T) {
	ctrl := &recordingController{}
	lim := &fakeLimiter{allow: false}
	h := WebhookHandler{Controller: ctrl, Limiter: lim, StreamURL: "wss://x/media-stream"}
	r := newWebhookRouter(h)

	w := postForm(t, r, "/webhook/voice", url.Values{"CallSid": {"CA9"}}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with busy TwiML, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("expected busy TwiML, got:\n%s", w.Body.String())
	}
	if len(ctrl.accepted) != 0 {
		t.Fatalf("expected no session accepted, got %v", ctrl.accepted)
	}
}

func TestHandleVoice_ReleasesCapOnAcceptFailure(t *testing.T) {
	ctrl := &recordingController{acceptErr: errors.New("duplicate session")}
	lim := &fakeLimiter{allow: true}
	h := WebhookHandler{Controller: ctrl, Limiter: lim, StreamURL: "wss://x/media-stream"}
	r := newWebhookRouter(h)

	w := postForm(t, r, "/webhook/voice", url.Values{"CallSid": {"CA9"}}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with reject TwiML, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject TwiML, got:\n%s", w.Body.String())
	}
	if len(lim.released) != 1 || lim.released[0] != "CA9" {
		t.Fatalf("expected capacity released for CA9, got %v", lim.released)
	}
}

func TestHandleVoice_MissingCallSid(t *testing.T) {
	h := WebhookHandler{Controller: &recordingController{}, StreamURL: "wss://x/media-stream"}
	r := newWebhookRouter(h)

	w := postForm(t, r, "/webhook/voice", url.Values{"From": {"+15551234567"}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleVoice_SignatureEnforced(t *testing.T) {
	ctrl := &recordingController{}
	h := WebhookHandler{
		Controller:    ctrl,
		SigningSecret: "secret-token",
		StreamURL:     "wss://x/media-stream",
	}
	r := newWebhookRouter(h)

	form := url.Values{"CallSid": {"CA123"}}

	// No signature at all.
	w := postForm(t, r, "/webhook/voice", form, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}

	// Valid signature.
	sig := signForm("secret-token", "http://example.com/webhook/voice", form)
	w = postForm(t, r, "/webhook/voice", form, map[string]string{"X-Twilio-Signature": sig})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d: %s", w.Code, w.Body.String())
	}
	if len(ctrl.accepted) != 1 {
		t.Fatalf("expected session accepted, got %v", ctrl.accepted)
	}
}

func TestHandleStatus_TerminalStatusTearsDown(t *testing.T) {
	ctrl := &recordingController{}
	lim := &fakeLimiter{allow: true}
	h := WebhookHandler{Controller: ctrl, Limiter: lim}
	r := newWebhookRouter(h)

	w := postForm(t, r, "/webhook/status", url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"completed"},
	}, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(ctrl.terminated) != 1 || ctrl.terminated[0] != "CA123" {
		t.Fatalf("expected CA123 terminated, got %v", ctrl.terminated)
	}
	if len(lim.released) != 1 {
		t.Fatalf("expected capacity released, got %v", lim.released)
	}
}

func TestHandleStatus_NonTerminalStatusIgnored(t *testing.T) {
	ctrl := &recordingController{}
	h := WebhookHandler{Controller: ctrl}
	r := newWebhookRouter(h)

	w := postForm(t, r, "/webhook/status", url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"ringing"},
	}, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(ctrl.terminated) != 0 {
		t.Fatalf("expected no termination for ringing, got %v", ctrl.terminated)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{"completed", "failed", "busy", "no-answer", "canceled", "COMPLETED"} {
		if !IsTerminalStatus(s) {
			t.Fatalf("expected %q to be terminal", s)
		}
	}
	for _, s := range []string{"ringing", "in-progress", "queued", ""} {
		if IsTerminalStatus(s) {
			t.Fatalf("expected %q to be non-terminal", s)
		}
	}
}

func TestHandleFallback_TearsDownAndApologizes(t *testing.T) {
	ctrl := &recordingController{}
	lim := &fakeLimiter{allow: true}
	r := newWebhookRouter(WebhookHandler{Controller: ctrl, Limiter: lim})

	form := url.Values{"CallSid": {"CA-fb"}, "CallStatus": {"in-progress"}}
	w := postForm(t, r, "/webhook/fallback", form, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Say>") || !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("expected apology twiml, got %q", w.Body.String())
	}
	if len(ctrl.terminated) != 1 || ctrl.terminated[0] != "CA-fb" {
		t.Fatalf("expected CA-fb terminated, got %v", ctrl.terminated)
	}
	if len(lim.released) != 1 || lim.released[0] != "CA-fb" {
		t.Fatalf("expected CA-fb released, got %v", lim.released)
	}
}

func TestHandleRecording_Acknowledges(t *testing.T) {
	ctrl := &recordingController{}
	r := newWebhookRouter(WebhookHandler{Controller: ctrl})

	form := url.Values{
		"CallSid":         {"CA-rec"},
		"RecordingSid":    {"RE123"},
		"RecordingUrl":    {"https://api.twilio.com/recordings/RE123"},
		"RecordingStatus": {"completed"},
	}
	w := postForm(t, r, "/webhook/recording", form, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(ctrl.terminated) != 0 {
		t.Fatalf("recording callback must not touch sessions, got %v", ctrl.terminated)
	}
}
