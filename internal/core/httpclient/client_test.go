package httpclient

import (
	"testing"
	"time"
)

func TestNewOutbound_Timeout(t *testing.T) {
	if got := NewOutbound(0).Timeout; got != defaultTimeout {
		t.Fatalf("timeout=%v want %v", got, defaultTimeout)
	}
	if got := NewOutbound(5 * time.Second).Timeout; got != 5*time.Second {
		t.Fatalf("timeout=%v want 5s", got)
	}
}
