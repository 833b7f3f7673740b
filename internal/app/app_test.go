package app

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openrcv/tally/internal/auth"
	"github.com/openrcv/tally/internal/logger"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "results.db")
	a, err := New(logger.New(), dbPath, auth.New("test-token"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestNew_InitializesApp(t *testing.T) {
	a := newTestApp(t)
	if a.Repo() == nil {
		t.Error("expected an initialized store")
	}
	if a.Hub() == nil {
		t.Error("expected an initialized hub")
	}
	if a.Router() == nil {
		t.Error("expected an initialized router")
	}
}

func TestNew_FailsWithBadDBPath(t *testing.T) {
	_, err := New(logger.New(), "/nonexistent-dir/results.db", auth.New(""), nil)
	if err == nil {
		t.Error("expected an error for an unwritable database path")
	}
}

func TestApp_Router_ServesRequests(t *testing.T) {
	a := newTestApp(t)
	server := httptest.NewServer(a.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/contests")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGetPreferredIP_ReturnsValidIP(t *testing.T) {
	ip := getPreferredIP(realNetworkProvider{})
	if ip == "" {
		t.Fatal("IP should never be empty")
	}
	if ip != "localhost" {
		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.To4() == nil {
			t.Errorf("expected an IPv4 address or 'localhost', got: %s", ip)
		}
	}
}

// mockInterface implements networkInterface for testing
type mockInterface struct {
	flags net.Flags
	addrs []net.Addr
	err   error
}

func (m mockInterface) Flags() net.Flags {
	return m.flags
}

func (m mockInterface) Addrs() ([]net.Addr, error) {
	return m.addrs, m.err
}

// mockNetworkProvider implements networkProvider for testing
type mockNetworkProvider struct {
	interfaces []networkInterface
	err        error
}

func (m mockNetworkProvider) Interfaces() ([]networkInterface, error) {
	return m.interfaces, m.err
}

func TestGetPreferredIP_NetworkError(t *testing.T) {
	ip := getPreferredIP(mockNetworkProvider{err: net.ErrClosed})
	if ip != "localhost" {
		t.Errorf("expected 'localhost' on error, got: %s", ip)
	}
}

func TestGetPreferredIP_PrefersPrivateAddress(t *testing.T) {
	iface := mockInterface{
		flags: net.FlagUp,
		addrs: []net.Addr{
			&net.IPNet{IP: net.ParseIP("8.8.8.8"), Mask: net.CIDRMask(24, 32)},
			&net.IPNet{IP: net.ParseIP("192.168.1.50"), Mask: net.CIDRMask(24, 32)},
		},
	}
	ip := getPreferredIP(mockNetworkProvider{interfaces: []networkInterface{iface}})
	if ip != "192.168.1.50" {
		t.Errorf("expected the private address, got: %s", ip)
	}
}

func TestGetPreferredIP_PublicFallback(t *testing.T) {
	iface := mockInterface{
		flags: net.FlagUp,
		addrs: []net.Addr{
			&net.IPNet{IP: net.ParseIP("8.8.8.8"), Mask: net.CIDRMask(24, 32)},
		},
	}
	ip := getPreferredIP(mockNetworkProvider{interfaces: []networkInterface{iface}})
	if ip != "8.8.8.8" {
		t.Errorf("expected the public address fallback, got: %s", ip)
	}
}

func TestGetPreferredIP_SkipsLoopbackAndDown(t *testing.T) {
	loopback := mockInterface{
		flags: net.FlagUp | net.FlagLoopback,
		addrs: []net.Addr{&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}},
	}
	down := mockInterface{
		flags: 0,
		addrs: []net.Addr{&net.IPNet{IP: net.ParseIP("192.168.1.2"), Mask: net.CIDRMask(24, 32)}},
	}
	ip := getPreferredIP(mockNetworkProvider{interfaces: []networkInterface{loopback, down}})
	if ip != "localhost" {
		t.Errorf("expected 'localhost' with no usable interface, got: %s", ip)
	}
}

func TestIsPrivate172(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.15.0.1", false},
		{"172.32.0.1", false},
		{"192.168.1.1", false},
	}
	for _, tt := range tests {
		if got := isPrivate172(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("isPrivate172(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}
