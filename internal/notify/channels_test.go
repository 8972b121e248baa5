package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/go-mail"

	"prtgalert/internal/config"
	"prtgalert/internal/models"
)

type fakeGateway struct {
	mu        sync.Mutex
	connected bool
	failFor   string
	sent      []sendRequest
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		json.NewEncoder(w).Encode(gatewayStatus{Connected: g.connected})
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		if req.Number == g.failFor {
			json.NewEncoder(w).Encode(sendResponse{Success: false, Error: "not on whatsapp"})
			return
		}
		g.sent = append(g.sent, req)
		json.NewEncoder(w).Encode(sendResponse{Success: true})
	})
	return mux
}

func newTestWhatsApp(t *testing.T, g *fakeGateway, recipients ...string) *WhatsApp {
	t.Helper()
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)
	return NewWhatsApp(config.WhatsAppConfig{
		APIURL:      srv.URL,
		Recipients:  recipients,
		CountryCode: "91",
		Timeout:     2 * time.Second,
	})
}

func envelope(n models.Notification) *models.Envelope {
	return models.NewEnvelope(&n, "test-node")
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+91 98765-43210", "919876543210"},
		{"9876543210", "919876543210"},
		{"(987) 654 3210", "919876543210"},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := NormalizeNumber(tt.in, "91"); got != tt.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := NormalizeNumber("12345", ""); got != "12345" {
		t.Errorf("no country code: got %q", got)
	}
}

func TestWhatsApp_SendToAllRecipients(t *testing.T) {
	g := &fakeGateway{connected: true}
	wa := newTestWhatsApp(t, g, "9876543210", " ", "+91 11111 22222")

	n := testComposer.Test(time.Now(), "hello")
	if err := wa.Send(context.Background(), envelope(n)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(g.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(g.sent))
	}
	if g.sent[0].Number != "919876543210" || g.sent[1].Number != "911111122222" {
		t.Errorf("numbers = %s, %s", g.sent[0].Number, g.sent[1].Number)
	}
	if g.sent[0].Message != n.Text() {
		t.Errorf("message = %q, want %q", g.sent[0].Message, n.Text())
	}
}

func TestWhatsApp_NotConnected(t *testing.T) {
	g := &fakeGateway{connected: false}
	wa := newTestWhatsApp(t, g, "9876543210")

	ready, err := wa.Probe(context.Background())
	if err != nil || ready {
		t.Fatalf("probe = %v, %v; want false, nil", ready, err)
	}

	err = wa.Send(context.Background(), envelope(testComposer.Test(time.Now(), "")))
	if !errors.Is(err, ErrGatewayNotReady) {
		t.Fatalf("expected ErrGatewayNotReady, got %v", err)
	}
	if len(g.sent) != 0 {
		t.Error("nothing should be sent while disconnected")
	}
}

func TestWhatsApp_OneRecipientFailureDoesNotStopOthers(t *testing.T) {
	g := &fakeGateway{connected: true, failFor: "911111111111"}
	wa := newTestWhatsApp(t, g, "1111111111", "2222222222")

	err := wa.SendText(context.Background(), "msg")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if !strings.Contains(err.Error(), "1111111111") {
		t.Errorf("error should name the failing recipient: %v", err)
	}
	if len(g.sent) != 1 || g.sent[0].Number != "912222222222" {
		t.Errorf("sent = %+v", g.sent)
	}
}

func TestWhatsApp_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	wa := NewWhatsApp(config.WhatsAppConfig{APIURL: srv.URL, Recipients: []string{"1"}, Timeout: time.Second})
	if _, err := wa.Probe(context.Background()); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestEmail_BuildsHTMLMessage(t *testing.T) {
	e := NewEmail(config.EmailConfig{
		SMTPServer: "smtp.example.com",
		SMTPPort:   587,
		Sender:     "alerts@example.com",
		Recipients: []string{"ops@example.com", "noc@example.com"},
	})

	var captured *mail.Msg
	e.send = func(ctx context.Context, msg *mail.Msg) error {
		captured = msg
		return nil
	}

	at := time.Now()
	n := testComposer.ConnectivityFailure(5, at)
	n.Lines = append(n.Lines, models.Line{Label: "Note", Value: "<b>escaped</b>"})
	if err := e.Send(context.Background(), envelope(n)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if captured == nil {
		t.Fatal("message was not handed to the transport")
	}

	rcpts, err := captured.GetRecipients()
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(rcpts) != 2 {
		t.Errorf("recipients = %v", rcpts)
	}
	if subj := captured.GetGenHeader(mail.HeaderSubject); len(subj) != 1 || subj[0] != n.Subject() {
		t.Errorf("subject = %v, want %q", subj, n.Subject())
	}

	html := n.HTML()
	if !strings.Contains(html, "<pre style='font-family: monospace;'>") || !strings.Contains(html, "&lt;b&gt;escaped&lt;/b&gt;") {
		t.Errorf("html body = %s", html)
	}
}

func TestEmail_TransportFailure(t *testing.T) {
	e := NewEmail(config.EmailConfig{Sender: "a@example.com", Recipients: []string{"b@example.com"}})
	e.send = func(ctx context.Context, msg *mail.Msg) error { return errors.New("connection refused") }

	err := e.Send(context.Background(), envelope(testComposer.Test(time.Now(), "")))
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestEmail_InvalidSender(t *testing.T) {
	e := NewEmail(config.EmailConfig{Sender: "not an address", Recipients: []string{"b@example.com"}})
	e.send = func(ctx context.Context, msg *mail.Msg) error {
		t.Fatal("transport should not be reached")
		return nil
	}
	if err := e.Send(context.Background(), envelope(testComposer.Test(time.Now(), ""))); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

type recordingChannel struct {
	name string
	err  error
	mu   sync.Mutex
	got  []models.Category
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, env *models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, env.Notification.Category)
	return c.err
}

func TestDispatcher_RoutesByCategory(t *testing.T) {
	push := &recordingChannel{name: "push"}
	email := &recordingChannel{name: "email", err: errors.New("smtp down")}

	d := NewDispatcher(
		Route{Channel: push, Categories: AllCategories},
		Route{Channel: email, Categories: TransitionCategories},
		Route{Channel: nil, Categories: AllCategories},
	)
	if got := d.Channels(); len(got) != 2 {
		t.Fatalf("channels = %v", got)
	}
	if !d.Routes(models.CategoryTest) || NewDispatcher(Route{Channel: email, Categories: TransitionCategories}).Routes(models.CategoryTest) {
		t.Error("Routes should follow route categories")
	}

	at := time.Now()
	if err := d.Deliver(context.Background(), envelope(testComposer.Startup(at, true))); err != nil {
		t.Fatalf("startup delivery: %v", err)
	}

	down := testComposer.ConnectivityFailure(5, at)
	down.Category = models.CategoryDown
	err := d.Deliver(context.Background(), envelope(down))
	if err == nil || !strings.Contains(err.Error(), "email") {
		t.Fatalf("expected email failure, got %v", err)
	}

	if len(push.got) != 2 {
		t.Errorf("push received %v", push.got)
	}
	if len(email.got) != 1 || email.got[0] != models.CategoryDown {
		t.Errorf("email received %v", email.got)
	}
}

func TestDispatcher_RejectsInvalidNotification(t *testing.T) {
	push := &recordingChannel{name: "push"}
	d := NewDispatcher(Route{Channel: push, Categories: AllCategories})

	n := testComposer.Test(time.Now(), "")
	n.Severity = ""
	err := d.Deliver(context.Background(), envelope(n))
	if !errors.Is(err, ErrDelivery) || !errors.Is(err, models.ErrInvalidSeverity) {
		t.Fatalf("expected invalid severity delivery error, got %v", err)
	}
	if len(push.got) != 0 {
		t.Errorf("invalid notification was sent: %v", push.got)
	}
}
