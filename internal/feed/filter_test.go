package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/PhiYerion/bucface/internal/protocol"
)

func sample(id uint64, author, machine, body string) protocol.PersistedEvent {
	return protocol.PersistedEvent{ID: id, Event: protocol.Event{
		Author: author, Machine: machine, Body: body, Timestamp: time.UnixMilli(1_700_000_000_000 + int64(id)).UTC(),
	}}
}

func TestFilterMatch(t *testing.T) {
	ev := sample(3, "alice", "web-1", "deploy finished")
	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{`author == "alice"`, true},
		{`author == "bob"`, false},
		{`machine.startsWith("web-") && body.contains("deploy")`, true},
		{`id == 3u`, true},
		{`ts_ms > 1700000000000`, true},
		{`ts_ms < 1700000000000`, false},
	}
	for _, tc := range cases {
		f, err := CompileFilter(tc.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.expr, err)
		}
		if got := f.Match(ev); got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.expr, got, tc.want)
		}
	}
}

func TestFilterRejectsBadExpressions(t *testing.T) {
	if _, err := CompileFilter(`author ==`); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := CompileFilter(`unknown_var == 1`); err == nil {
		t.Fatalf("expected check error")
	}
	_, err := CompileFilter(`body`)
	var te *FilterTypeError
	if !errors.As(err, &te) {
		t.Fatalf("expected FilterTypeError, got %v", err)
	}
}
