package streampool

import (
	"strings"
	"testing"
)

func TestCaptureCallStackIncludesCaller(t *testing.T) {
	cs := captureCallStack(0)
	s := cs.String()
	if !strings.Contains(s, "TestCaptureCallStackIncludesCaller") {
		t.Fatalf("captured call stack does not mention the calling test:\n%s", s)
	}
}

func TestNilCallStackStringIsEmpty(t *testing.T) {
	var cs *CallStack
	if got := cs.String(); got != "" {
		t.Fatalf("nil CallStack.String() = %q, want empty string", got)
	}
}
