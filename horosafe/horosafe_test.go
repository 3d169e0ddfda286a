package horosafe

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
)

func TestValidateScheme(t *testing.T) {
	ok := []string{"http://example.com", "https://127.0.0.1:9222/json"}
	for _, u := range ok {
		if err := ValidateScheme(u); err != nil {
			t.Errorf("ValidateScheme(%q) = %v", u, err)
		}
	}
	if err := ValidateScheme("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Errorf("file scheme: err = %v, want ErrUnsafeScheme", err)
	}
	if err := ValidateScheme("http://"); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestValidateURL_LiteralIPs(t *testing.T) {
	blocked := []string{
		"http://127.0.0.1/",
		"http://10.1.2.3/",
		"http://192.168.0.10:8080/rpc",
		"http://169.254.169.254/latest",
		"http://[::1]/",
		"http://[fd00::1]/",
		"http://0.0.0.0/",
	}
	for _, u := range blocked {
		if err := ValidateURL(u); !errors.Is(err, ErrSSRF) {
			t.Errorf("ValidateURL(%q) = %v, want ErrSSRF", u, err)
		}
	}
	if err := ValidateURL("http://93.184.216.34/"); err != nil {
		t.Errorf("public IP: %v", err)
	}
}

func TestIsPrivate_MappedV4(t *testing.T) {
	if !IsPrivate(netip.MustParseAddr("::ffff:10.0.0.1")) {
		t.Error("v4-mapped private address not detected")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("data=%q err=%v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); err == nil {
		t.Fatal("expected error when over the limit")
	}
}
