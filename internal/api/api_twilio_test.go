package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/BTreeMap/BloodLink/internal/messaging"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/testutil"
	"github.com/BTreeMap/BloodLink/internal/twiliowhatsapp"
)

func newTwilioServer(t *testing.T) (*Server, *messaging.TwilioService) {
	t.Helper()
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	t.Cleanup(func() { _ = svc.Stop() })
	return NewServer(svc, nil), svc
}

func postForm(t *testing.T, s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, testutil.CreateFormRequest(t, path, form))
	return rr
}

func assertTwiML(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	if rr.Body.String() != emptyTwiML {
		t.Errorf("body = %q, want %q", rr.Body.String(), emptyTwiML)
	}
}

func nextResponse(t *testing.T, svc *messaging.TwilioService) models.Response {
	t.Helper()
	select {
	case resp := <-svc.Responses():
		return resp
	case <-time.After(time.Second):
		t.Fatal("no inbound message queued")
		return models.Response{}
	}
}

func TestWebhook_TextMessage(t *testing.T) {
	s, svc := newTwilioServer(t)
	rr := postForm(t, s, "/webhook", url.Values{
		"From":       {"whatsapp:+2348000000001"},
		"Body":       {"DONATE"},
		"MessageSid": {"SM123"},
	})
	assertTwiML(t, rr)

	resp := nextResponse(t, svc)
	if resp.From != "+2348000000001" || resp.Body != "DONATE" || resp.MessageID != "SM123" {
		t.Errorf("unexpected inbound %+v", resp)
	}
}

func TestWebhook_MediaOnly(t *testing.T) {
	s, svc := newTwilioServer(t)
	rr := postForm(t, s, "/webhook", url.Values{
		"From":              {"whatsapp:+2348000000001"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/2010-04-01/Accounts/AC1/Messages/MM1/Media/ME1"},
		"MediaContentType0": {"image/jpeg"},
		"MessageSid":        {"MM1"},
	})
	assertTwiML(t, rr)

	resp := nextResponse(t, svc)
	if resp.Body != messaging.MediaOnlyBody {
		t.Errorf("Body = %q, want %q", resp.Body, messaging.MediaOnlyBody)
	}
	if resp.Media == nil || resp.Media.ContentType != "image/jpeg" {
		t.Errorf("Media = %+v", resp.Media)
	}
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing sender", url.Values{"Body": {"hi"}}},
		{"empty form", url.Values{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, svc := newTwilioServer(t)
			assertTwiML(t, postForm(t, s, "/webhook", tt.form))
			select {
			case resp := <-svc.Responses():
				t.Errorf("nothing should be queued, got %+v", resp)
			default:
			}
		})
	}
}

func TestWebhook_NoInboundService(t *testing.T) {
	s := NewServer(nil, nil)
	assertTwiML(t, postForm(t, s, "/webhook", url.Values{"From": {"whatsapp:+2348000000001"}, "Body": {"hi"}}))
}

func TestWebhook_ServiceStopped(t *testing.T) {
	s, svc := newTwilioServer(t)
	_ = svc.Stop()
	assertTwiML(t, postForm(t, s, "/webhook", url.Values{"From": {"whatsapp:+2348000000001"}, "Body": {"hi"}}))
}

func TestStatusWebhook(t *testing.T) {
	s, svc := newTwilioServer(t)
	rr := postForm(t, s, "/webhook/status", url.Values{
		"MessageSid":    {"SM9"},
		"MessageStatus": {"delivered"},
		"To":            {"whatsapp:+2348000000001"},
	})
	assertTwiML(t, rr)

	select {
	case r := <-svc.Receipts():
		if r.MessageID != "SM9" || r.Status != models.MessageStatusDelivered || r.To != "+2348000000001" {
			t.Errorf("unexpected receipt %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no receipt emitted")
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	s, _ := newTwilioServer(t)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET /webhook")
}
