package geoip

import (
	"errors"
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
)

type fakeReader struct {
	countries map[string]string
	closed    bool
}

func (f *fakeReader) Country(ip net.IP) (*geoip2.Country, error) {
	code, ok := f.countries[ip.String()]
	if !ok {
		return nil, errors.New("address not found")
	}
	record := &geoip2.Country{}
	record.Country.IsoCode = code
	return record, nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestLocaleForCountry(t *testing.T) {
	tests := map[string]string{
		"BR":  "pt",
		"pt":  "pt",
		" ao": "pt",
		"US":  "en",
		"ID":  "en",
		"":    "",
		"BRA": "",
	}
	for code, want := range tests {
		if got := LocaleForCountry(code); got != want {
			t.Fatalf("LocaleForCountry(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestResolverLocale(t *testing.T) {
	reader := &fakeReader{countries: map[string]string{
		"200.160.2.3": "BR",
		"8.8.8.8":     "US",
		"10.0.0.1":    "",
	}}
	r := &Resolver{reader: reader}

	tests := []struct {
		ip      string
		want    string
		wantErr bool
	}{
		{ip: "200.160.2.3", want: "pt"},
		{ip: "8.8.8.8", want: "en"},
		{ip: "10.0.0.1", want: ""},
		{ip: "192.0.2.1", wantErr: true},
		{ip: "not-an-ip", wantErr: true},
	}
	for _, tc := range tests {
		got, err := r.Locale(tc.ip)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Locale(%q) error = %v, wantErr %v", tc.ip, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("Locale(%q) = %q, want %q", tc.ip, got, tc.want)
		}
	}

	if err := r.Close(); err != nil || !reader.closed {
		t.Fatalf("Close = %v, closed = %v", err, reader.closed)
	}
}

func TestNilResolver(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil || r != nil {
		t.Fatalf("NewResolver(empty) = %v, %v", r, err)
	}
	if _, err := r.CountryCode("8.8.8.8"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("CountryCode on nil resolver = %v, want ErrUnavailable", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil resolver: %v", err)
	}
}
