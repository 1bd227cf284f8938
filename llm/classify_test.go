package llm

import (
	"context"
	"errors"
	"testing"

	spacebot "github.com/nevindra/spacebot"
)

func TestRetriableStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, c := range cases {
		err := &spacebot.ErrHTTP{Status: c.status}
		if got := Retriable(err); got != c.want {
			t.Errorf("Retriable(http %d) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestRetriableEmptyResponse(t *testing.T) {
	err := &spacebot.ErrLLM{Provider: "x", Message: "empty choice", Retriable: true}
	if !Retriable(err) {
		t.Error("empty-response errors should be retriable")
	}
	malformed := &spacebot.ErrLLM{Provider: "x", Message: "malformed json"}
	if Retriable(malformed) {
		t.Error("malformed responses should not be retriable")
	}
}

func TestCancellationIsNotRetriable(t *testing.T) {
	if Retriable(context.Canceled) {
		t.Error("context.Canceled must not be retriable")
	}
	if Retriable(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded must not be retriable")
	}
}

func TestRateLimited(t *testing.T) {
	if !RateLimited(&spacebot.ErrHTTP{Status: 429}) {
		t.Error("429 is rate limited")
	}
	if RateLimited(&spacebot.ErrHTTP{Status: 500}) {
		t.Error("500 is not rate limited")
	}
	if !RateLimited(errors.New("RESOURCE_EXHAUSTED: quota exceeded")) {
		t.Error("provider quota errors are rate limited")
	}
}

func TestCancelled(t *testing.T) {
	if !Cancelled(context.Canceled) {
		t.Error("context.Canceled is a cancellation")
	}
	if !Cancelled(&spacebot.ErrCancelled{Reason: "user"}) {
		t.Error("ErrCancelled is a cancellation")
	}
	if Cancelled(errors.New("boom")) {
		t.Error("ordinary errors are not cancellations")
	}
}
