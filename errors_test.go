package kernel

import (
	"errors"
	"testing"
)

func TestExtractExnUnwrapsErrorPayload(t *testing.T) {
	cause := errors.New("underlying failure")
	ur := newUserRaised(cause, "")
	got := ExtractExn(ur)
	if got != cause {
		t.Fatalf("got %v, want the original error payload", got)
	}
}

func TestExtractExnWrapsNonErrorPayload(t *testing.T) {
	ur := newUserRaised("boom", "")
	got := ExtractExn(ur)
	if got == nil {
		t.Fatal("ExtractExn returned nil for a non-error panic payload")
	}
	if got.Error() != "boom" {
		t.Fatalf("got %q, want %q", got.Error(), "boom")
	}
}

func TestExtractExnPassesThroughNonUserRaised(t *testing.T) {
	err := errors.New("plain error")
	if got := ExtractExn(err); got != err {
		t.Fatalf("got %v, want err unchanged", got)
	}
}
