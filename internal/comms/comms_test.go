package comms

import (
	"errors"
	"testing"
)

type fooMsg struct{ n int }

func TestRegisterAndSend(t *testing.T) {
	var d Directory
	var got int

	mb := MailboxFunc(func(msg any) error {
		m, ok := msg.(fooMsg)
		if !ok {
			return ErrUnhandled
		}
		got = m.n
		return nil
	})

	if err := d.Register(Int(InternalBattery), mb); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Send(Int(InternalBattery), fooMsg{n: 7}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	var d Directory
	mb := MailboxFunc(func(msg any) error { return nil })

	if err := d.Register(Int(InternalPower), mb); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := d.Register(Int(InternalPower), mb)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestSendUnknownEndpoint(t *testing.T) {
	var d Directory
	err := d.Send(Ext(ExternalHost), fooMsg{})
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("expected ErrUnknownEndpoint, got %v", err)
	}
}

func TestSendUnhandledType(t *testing.T) {
	var d Directory
	mb := MailboxFunc(func(msg any) error {
		if _, ok := msg.(fooMsg); !ok {
			return ErrUnhandled
		}
		return nil
	})
	_ = d.Register(Int(InternalUsbc), mb)

	err := d.Send(Int(InternalUsbc), "not a fooMsg")
	if !errors.Is(err, ErrUnhandled) {
		t.Fatalf("expected ErrUnhandled, got %v", err)
	}
}
