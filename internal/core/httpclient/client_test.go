package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOutbound_DefaultTimeout(t *testing.T) {
	if c := NewOutbound(0); c.Timeout != DefaultTimeout {
		t.Fatalf("timeout=%v want %v", c.Timeout, DefaultTimeout)
	}
}

func TestNewOutbound_TimeoutAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewOutbound(50 * time.Millisecond)
	resp, err := c.Get(srv.URL)
	if err == nil {
		_ = resp.Body.Close()
		t.Fatalf("expected timeout error")
	}
}
