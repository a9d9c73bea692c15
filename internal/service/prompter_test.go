package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseAuthorizationInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		state   string
		want    string
		wantErr error
	}{
		{"bare code", "  abc123 \n", "s1", "abc123", nil},
		{"redirect url", "http://localhost:4000/oauth/callback?code=xyz&state=s1", "s1", "xyz", nil},
		{"url without state", "http://localhost:4000/oauth/callback?code=xyz", "s1", "xyz", nil},
		{"state mismatch", "http://localhost:4000/oauth/callback?code=xyz&state=other", "s1", "", ErrStateMismatch},
		{"denied", "http://localhost:4000/oauth/callback?error=access_denied&state=s1", "s1", "", ErrAuthorizationDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthorizationInput(tt.input, tt.state)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	if _, err := ParseAuthorizationInput("   ", "s1"); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestConsolePrompter(t *testing.T) {
	var out bytes.Buffer
	p := NewConsolePrompter(strings.NewReader("http://localhost/cb?code=c-1&state=s1\n"), &out)

	code, err := p.PromptCode(context.Background(), "https://connect.example.com/auth", "s1")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if code != "c-1" {
		t.Fatalf("unexpected code %q", code)
	}
	if !strings.Contains(out.String(), "https://connect.example.com/auth") {
		t.Fatal("auth url should be printed")
	}
}

func TestConsolePrompterEOF(t *testing.T) {
	p := NewConsolePrompter(strings.NewReader(""), &bytes.Buffer{})
	if _, err := p.PromptCode(context.Background(), "u", "s"); err == nil {
		t.Fatal("expected error on empty stdin")
	}
}

func TestCallbackPrompterDelivers(t *testing.T) {
	p := NewCallbackPrompter()

	type result struct {
		code string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		code, err := p.PromptCode(context.Background(), "https://auth", "s1")
		ch <- result{code, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.PendingAuthURL() == "" {
		if time.Now().After(deadline) {
			t.Fatal("prompt never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := p.Deliver("wrong", "c", ""); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
	if err := p.Deliver("s1", "c-1", ""); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	r := <-ch
	if r.err != nil || r.code != "c-1" {
		t.Fatalf("unexpected result %+v", r)
	}
	if p.PendingAuthURL() != "" {
		t.Fatal("pending url should be cleared")
	}
	if err := p.Deliver("s1", "c-2", ""); !errors.Is(err, ErrStateMismatch) {
		t.Fatal("state must be single use")
	}
}

func TestCallbackPrompterDenied(t *testing.T) {
	p := NewCallbackPrompter()
	ch := make(chan error, 1)
	go func() {
		_, err := p.PromptCode(context.Background(), "https://auth", "s1")
		ch <- err
	}()

	for p.PendingAuthURL() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	_ = p.Deliver("s1", "", "access_denied")

	if err := <-ch; !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected ErrAuthorizationDenied, got %v", err)
	}
}

func TestCallbackPrompterCancel(t *testing.T) {
	p := NewCallbackPrompter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.PromptCode(ctx, "https://auth", "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
