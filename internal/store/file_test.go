package store

import (
	"context"
	"testing"

	logx "homepulse/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, KeyPreferences); ok || err != nil {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := st.Set(ctx, KeyPreferences, `{"enabled":true}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := st.Get(ctx, KeyPreferences)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if raw != `{"enabled":true}` {
		t.Fatalf("unexpected value: %s", raw)
	}

	if err := st.MultiRemove(ctx, []string{KeyPreferences, KeySchedules}); err != nil {
		t.Fatalf("multiRemove: %v", err)
	}
	if _, ok, _ := st.Get(ctx, KeyPreferences); ok {
		t.Fatalf("key survived MultiRemove")
	}
}

func TestFileStoreEscapesWeirdKeys(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	key := "../escape/../../attempt"
	if err := st.Set(ctx, key, "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := st.Get(ctx, key)
	if err != nil || !ok || raw != "v" {
		t.Fatalf("roundtrip via escaped key failed: %q ok=%v err=%v", raw, ok, err)
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil store when disabled")
	}
}
