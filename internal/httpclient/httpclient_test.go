package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewTimeouts(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want time.Duration
	}{
		{name: "default", opts: Options{}, want: 180 * time.Second},
		{name: "configured", opts: Options{Timeout: 5 * time.Second}, want: 5 * time.Second},
		{name: "ipv4", opts: Options{PreferIPv4: true, Timeout: time.Minute}, want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.opts)
			if client.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", client.Timeout, tt.want)
			}
			transport, ok := client.Transport.(*http.Transport)
			if !ok {
				t.Fatalf("Transport = %T, want *http.Transport", client.Transport)
			}
			if transport.ResponseHeaderTimeout != tt.want {
				t.Errorf("ResponseHeaderTimeout = %v, want %v", transport.ResponseHeaderTimeout, tt.want)
			}
			if transport.MaxIdleConnsPerHost != 8 {
				t.Errorf("MaxIdleConnsPerHost = %d, want 8", transport.MaxIdleConnsPerHost)
			}
		})
	}
}
