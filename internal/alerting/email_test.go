package alerting

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
)

func TestEmailNotifierSendsToEventAddress(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n := NewEmailNotifier(EmailOptions{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"}, testLogger())
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := n.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("wrong smtp addr: %s", gotAddr)
	}
	if gotFrom != "alerts@example.com" {
		t.Fatalf("wrong from: %s", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "user@example.com" {
		t.Fatalf("wrong recipients: %v", gotTo)
	}
	if !strings.Contains(string(gotMsg), "Subject: Price alert") {
		t.Fatalf("message missing subject: %q", string(gotMsg))
	}
}

func TestEmailNotifierRequiresRecipient(t *testing.T) {
	n := NewEmailNotifier(EmailOptions{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"}, testLogger())

	event := testEvent()
	event.Email = ""
	if err := n.Notify(context.Background(), event); err == nil {
		t.Fatal("missing recipient should error")
	}
}
