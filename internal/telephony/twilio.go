package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider talks to the Twilio REST API directly over net/http.
// No SDK; the surface we need is four endpoints.
type TwilioProvider struct {
	accountSID string
	authToken  string
	fromNumber string

	baseURL string
	client  *http.Client
}

type TwilioOption func(*TwilioProvider)

// WithBaseURL overrides the API endpoint; tests point it at a local server.
func WithBaseURL(u string) TwilioOption {
	return func(p *TwilioProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) TwilioOption {
	return func(p *TwilioProvider) { p.client = c }
}

func NewTwilioProvider(accountSID, authToken, fromNumber string, opts ...TwilioOption) *TwilioProvider {
	p := &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioAPIBase,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// Fetching the account resource is the cheapest authenticated call.
	req, err := p.newRequest(ctx, http.MethodGet, fmt.Sprintf("/Accounts/%s.json", p.accountSID), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check status %d", ErrProvider, resp.StatusCode)
	}
	return nil
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req OutboundCallRequest) (CallRecord, error) {
	twiml, err := StreamTwiML(req.StreamURL, map[string]string{"direction": "outbound"})
	if err != nil {
		return CallRecord{}, err
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", p.fromNumber)
	form.Set("Twiml", twiml)
	if req.Record {
		form.Set("Record", "true")
	}
	if req.DetectMachine {
		form.Set("MachineDetection", "Enable")
	}
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}

	var body twilioCall
	if err := p.do(ctx, http.MethodPost, p.callsPath(""), form, &body); err != nil {
		return CallRecord{}, err
	}
	return body.toRecord(), nil
}

func (p *TwilioProvider) GetCall(ctx context.Context, callSID string) (CallRecord, error) {
	var body twilioCall
	if err := p.do(ctx, http.MethodGet, p.callsPath(callSID), nil, &body); err != nil {
		return CallRecord{}, err
	}
	return body.toRecord(), nil
}

func (p *TwilioProvider) EndCall(ctx context.Context, callSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return p.do(ctx, http.MethodPost, p.callsPath(callSID), form, nil)
}

func (p *TwilioProvider) TransferCall(ctx context.Context, callSID, targetNumber, announcement string) error {
	twiml, err := TransferTwiML(targetNumber, announcement)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("Twiml", twiml)
	return p.do(ctx, http.MethodPost, p.callsPath(callSID), form, nil)
}

func (p *TwilioProvider) ListCalls(ctx context.Context, status string, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(limit))
	if status != "" {
		q.Set("Status", status)
	}

	var body struct {
		Calls []twilioCall `json:"calls"`
	}
	path := p.callsPath("") + "?" + q.Encode()
	if err := p.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	out := make([]CallRecord, 0, len(body.Calls))
	for _, c := range body.Calls {
		out = append(out, c.toRecord())
	}
	return out, nil
}

func (p *TwilioProvider) callsPath(callSID string) string {
	if callSID == "" {
		return fmt.Sprintf("/Accounts/%s/Calls.json", p.accountSID)
	}
	return fmt.Sprintf("/Accounts/%s/Calls/%s.json", p.accountSID, url.PathEscape(callSID))
}

func (p *TwilioProvider) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func (p *TwilioProvider) do(ctx context.Context, method, path string, form url.Values, out any) error {
	req, err := p.newRequest(ctx, method, path, form)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCallNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("%w: %s (code %d)", ErrProvider, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// twilioCall mirrors the wire shape of Twilio's call resource.
type twilioCall struct {
	Sid       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Duration  string `json:"duration"`
	Price     string `json:"price"`
	PriceUnit string `json:"price_unit"`
}

func (c twilioCall) toRecord() CallRecord {
	rec := CallRecord{
		CallSID:   c.Sid,
		From:      c.From,
		To:        c.To,
		Status:    c.Status,
		Direction: c.Direction,
		Price:     c.Price,
		Currency:  c.PriceUnit,
	}
	if t, err := time.Parse(time.RFC1123Z, c.StartTime); err == nil {
		rec.StartedAt = &t
	}
	if t, err := time.Parse(time.RFC1123Z, c.EndTime); err == nil {
		rec.EndedAt = &t
	}
	if n, err := strconv.Atoi(c.Duration); err == nil {
		rec.DurationSeconds = n
	}
	raw, _ := json.Marshal(c)
	rec.Raw = string(raw)
	return rec
}
