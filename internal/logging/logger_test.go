package logging

import "testing"

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestRedact(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"":             "",
		"abc":          "***",
		"abcd":         "****",
		"0123456789ab": "********89ab",
	}
	for in, want := range testCases {
		if got := Redact("client_id", in).String; got != want {
			t.Fatalf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}
