package instance

import "testing"

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv(envWorkerID, " cron-7 ")
	if got := GetID("cron-worker"); got != "cron-7" {
		t.Fatalf("expected env id, got %q", got)
	}
}

func TestGetIDFallsBackToService(t *testing.T) {
	t.Setenv(envWorkerID, "")
	got := GetID("outbox-publisher")
	if got == "" || got[:len("outbox-publisher")] != "outbox-publisher" {
		t.Fatalf("expected service-prefixed id, got %q", got)
	}
}
