package server

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestConsoleExec(t *testing.T) {
	srv := newTestServer(t, nil)
	c := connect(t, srv, "10.0.0.1")
	c.register("alice")
	c.join("#general")

	var out bytes.Buffer
	con := NewConsole(srv.Admin(), strings.NewReader(""), &out)

	tests := []struct {
		line string
		want string
	}{
		{"help", "addchan <#name> [topic]"},
		{"who", "1 session(s)"},
		{"WHO", "alice"},
		{"channels", "#general"},
		{"addchan #ops Operators only", "created #ops"},
		{"addchan #ops", "error: "},
		{"rmchan #general", "error: "},
		{"rmchan #ops", "removed #ops"},
		{"rmchan", "usage: rmchan <#name>"},
		{"ban 203.0.113.9 drive-by", "banned 203.0.113.9"},
		{"bans", "drive-by"},
		{"unban 203.0.113.9", "unbanned 203.0.113.9"},
		{"unban 203.0.113.9", "error: "},
		{"bannick mallory", "banned nick mallory"},
		{"unbannick mallory", "unbanned nick mallory"},
		{"msg alice hello there", "sent"},
		{"msg", "usage: msg <target> <text>"},
		{"broadcast restart in five", "sent to 1 session(s)"},
		{"kick ghost", "error: "},
		{"frobnicate", `unknown command "frobnicate"`},
	}
	for _, tt := range tests {
		out.Reset()
		if stop := con.Exec(tt.line); stop {
			t.Fatalf("Exec(%q) requested shutdown", tt.line)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("Exec(%q) = %q, want it to contain %q", tt.line, out.String(), tt.want)
		}
	}

	if m := c.expect("NOTICE"); m.Params[1] != "hello there" {
		t.Errorf("msg delivered %q", m.Params)
	}

	out.Reset()
	con.Exec("kick alice flooding")
	if !strings.Contains(out.String(), "kicked 1 session(s)") {
		t.Errorf("kick output = %q", out.String())
	}
	if reason := findError(t, c.expectClosed()); !strings.Contains(reason, "Kicked: flooding") {
		t.Errorf("ERROR = %q", reason)
	}

	out.Reset()
	if !con.Exec("shutdown") {
		t.Fatal("shutdown did not stop the console")
	}
	select {
	case <-srv.stop:
	case <-time.After(testTimeout):
		t.Fatal("shutdown was not requested")
	}
}

func TestConsoleRun(t *testing.T) {
	srv := newTestServer(t, nil)
	var out bytes.Buffer
	con := NewConsole(srv.Admin(), strings.NewReader("channels\n\nbogus\n"), &out)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := con.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{"> ", "#main", `unknown command "bogus"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}
