package bootstrap

import (
	"context"
	"errors"
	"testing"

	"studio/internal/domain"
	"studio/internal/infra"
)

func memoryConfig(t *testing.T, apiKey string) *infra.Config {
	t.Helper()
	return &infra.Config{
		AppEnv:           "test",
		StoreDriver:      infra.StoreDriverMemory,
		RunningHubAPIKey: apiKey,
		StoragePath:      t.TempDir(),
		DefaultLocale:    "pt",
	}
}

func TestNewMemoryServices(t *testing.T) {
	s, err := New(context.Background(), memoryConfig(t, "key-1"), infra.NopLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()
	if s.Manager == nil || s.Reconciler == nil || s.Gateway == nil {
		t.Fatalf("services not wired: %+v", s)
	}
	if s.Relay != nil {
		t.Fatalf("relay should be nil without redis")
	}
	if len(s.Gateway.Tools()) == 0 {
		t.Fatalf("no tools loaded")
	}
	if err := s.RunRelay(context.Background()); err != nil {
		t.Fatalf("RunRelay without redis: %v", err)
	}
}

func TestNewWithoutProviderKey(t *testing.T) {
	_, err := New(context.Background(), memoryConfig(t, ""), infra.NopLogger())
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("New error = %v, want ErrMissingCredential", err)
	}
}

func TestWebhookURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		secret string
		want   string
	}{
		{name: "empty", raw: "", secret: "s", want: ""},
		{name: "no secret", raw: "https://api.example/v1/webhooks/runninghub", want: "https://api.example/v1/webhooks/runninghub"},
		{name: "adds token", raw: "https://api.example/v1/webhooks/runninghub", secret: "s3", want: "https://api.example/v1/webhooks/runninghub?token=s3"},
		{name: "keeps token", raw: "https://api.example/hook?token=abc", secret: "s3", want: "https://api.example/hook?token=abc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := webhookURL(tc.raw, tc.secret); got != tc.want {
				t.Fatalf("webhookURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
