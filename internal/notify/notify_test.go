package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/config"
)

type sent struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestMailer(out *[]sent) *Mailer {
	cfg := config.MailConfig{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", AdminContact: "admin@example.com"}
	return NewMailer(cfg, []string{"cra.example.com"}).WithSendFunc(
		func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			*out = append(*out, sent{addr: addr, from: from, to: to, msg: string(msg)})
			return nil
		})
}

func TestRegistrationReceivedGoesToAdmin(t *testing.T) {
	var out []sent
	m := newTestMailer(&out)
	user := &model.User{Email: "new@example.com", FirstName: "New", LastName: "User"}
	if err := m.RegistrationReceived(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].to[0] != "admin@example.com" || out[0].addr != "smtp.example.com:587" {
		t.Fatalf("unexpected delivery %+v", out)
	}
	if !strings.Contains(out[0].msg, "New User") || !strings.Contains(out[0].msg, "new@example.com") {
		t.Errorf("body missing user details: %s", out[0].msg)
	}
}

func TestAccountApprovedCarriesPasswordAndLoginLink(t *testing.T) {
	var out []sent
	m := newTestMailer(&out)
	user := &model.User{Email: "ok@example.com", Username: "ok"}
	if err := m.AccountApproved(context.Background(), user, "Ab1!xyzXYZ12"); err != nil {
		t.Fatal(err)
	}
	body := out[0].msg
	if !strings.Contains(body, "Ab1!xyzXYZ12") {
		t.Error("temporary password missing")
	}
	if !strings.Contains(body, "http://cra.example.com/login") {
		t.Error("login link missing")
	}
	if out[0].to[0] != "ok@example.com" {
		t.Errorf("recipient = %v", out[0].to)
	}
}

func TestAccountRejectedEscapesReason(t *testing.T) {
	var out []sent
	m := newTestMailer(&out)
	user := &model.User{Email: "no@example.com"}
	if err := m.AccountRejected(context.Background(), user, "<b>incomplete</b>"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out[0].msg, "<b>incomplete</b>") {
		t.Error("reason was not escaped")
	}
}

func TestUnconfiguredMailerFails(t *testing.T) {
	m := NewMailer(config.MailConfig{}, nil)
	err := m.AccountRejected(context.Background(), &model.User{Email: "x@example.com"}, "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoginURL(t *testing.T) {
	tests := []struct {
		hosts []string
		want  string
	}{
		{nil, "http://localhost:8000/login"},
		{[]string{"*"}, "http://localhost:8000/login"},
		{[]string{"https://cra.example.com/"}, "https://cra.example.com/login"},
		{[]string{".example.com"}, "http://example.com/login"},
	}
	for _, tt := range tests {
		if got := loginURL(tt.hosts); got != tt.want {
			t.Errorf("loginURL(%v) = %q, want %q", tt.hosts, got, tt.want)
		}
	}
}
