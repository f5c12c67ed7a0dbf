package protocol

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/irc.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"nick", "NICK alice", Nick{Name: "alice"}},
		{"nick crlf", "NICK alice\r\n", Nick{Name: "alice"}},
		{"lowercase verb", "nick alice", Nick{Name: "alice"}},
		{"client prefix ignored", ":alice NICK bob", Nick{Name: "bob"}},
		{"tags ignored", "@time=now PING tok", Ping{Token: "tok"}},
		{"user", "USER alice 0 * :Alice Liddell", User{Username: "alice", RealName: "Alice Liddell"}},
		{"join single", "JOIN #general", Join{Channels: []string{"#general"}}},
		{"join without prefix", "JOIN general", Join{Channels: []string{"general"}}},
		{"join list with keys", "JOIN #a,#b k1", Join{Channels: []string{"#a", "#b"}, Keys: []string{"k1"}}},
		{"part all", "PART", Part{}},
		{"part with reason", "PART #a,#b :gone home", Part{Channels: []string{"#a", "#b"}, Reason: "gone home"}},
		{"privmsg", "PRIVMSG #general :hi there", Privmsg{Target: "#general", Text: "hi there"}},
		{"privmsg single word", "PRIVMSG bob hi", Privmsg{Target: "bob", Text: "hi"}},
		{"ctcp action opaque", "PRIVMSG #g :\x01ACTION waves\x01", Privmsg{Target: "#g", Text: "\x01ACTION waves\x01"}},
		{"notice", "NOTICE bob :psst", Privmsg{Target: "bob", Text: "psst", Notice: true}},
		{"mode query", "MODE #general", Mode{Target: "#general"}},
		{"mode set key", "MODE #general +k secret", Mode{Target: "#general", Modes: "+k", Args: []string{"secret"}}},
		{"mode unset limit", "MODE #general -l", Mode{Target: "#general", Modes: "-l"}},
		{"topic query", "TOPIC #general", Topic{Channel: "#general"}},
		{"topic set", "TOPIC #general :new topic", Topic{Channel: "#general", Text: "new topic", Set: true}},
		{"names all", "NAMES", Names{}},
		{"names some", "NAMES #a,#b", Names{Channels: []string{"#a", "#b"}}},
		{"list", "LIST", List{}},
		{"whois", "WHOIS bob", Whois{Nick: "bob"}},
		{"whois with server", "WHOIS irc.example bob", Whois{Nick: "bob"}},
		{"ping", "PING :irc.example", Ping{Token: "irc.example"}},
		{"pong", "PONG irc.example", Pong{Token: "irc.example"}},
		{"cap ls", "CAP LS 302", Cap{Sub: "LS", Args: []string{"302"}}},
		{"cap end", "cap end", Cap{Sub: "END"}},
		{"quit", "QUIT :bye now", Quit{Reason: "bye now"}},
		{"quit bare", "QUIT", Quit{}},
		{"unknown", "KNOCK #general", Unknown{Command: "KNOCK"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.line, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantErr  error
		wantVerb string
	}{
		{"empty", "", ErrMalformed, ""},
		{"blank", "   \r\n", ErrMalformed, ""},
		{"prefix only", ":alice", ErrMalformed, ""},
		{"embedded CR", "PRIVMSG bob :hi\r:admin PRIVMSG bob :x", ErrMalformed, ""},
		{"embedded LF", "TOPIC #general :a\nb", ErrMalformed, ""},
		{"embedded NUL", "QUIT :bye\x00", ErrMalformed, ""},
		{"nick without name", "NICK", ErrNeedMoreParams, "NICK"},
		{"user short", "USER alice 0 *", ErrNeedMoreParams, "USER"},
		{"join empty list", "JOIN ,", ErrNeedMoreParams, "JOIN"},
		{"privmsg no text", "PRIVMSG #general", ErrNeedMoreParams, "PRIVMSG"},
		{"notice no target", "NOTICE", ErrNeedMoreParams, "NOTICE"},
		{"ping bare", "PING", ErrNeedMoreParams, "PING"},
		{"whois bare", "WHOIS", ErrNeedMoreParams, "WHOIS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse(%q) err = %v, want %v", tt.line, err, tt.wantErr)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse(%q) err %T is not *ParseError", tt.line, err)
			}
			if pe.Verb != tt.wantVerb {
				t.Errorf("ParseError.Verb = %q, want %q", pe.Verb, tt.wantVerb)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  *irc.Message
		want string
	}{
		{
			"welcome numeric",
			Numeric("irc.test", RPL_WELCOME, "alice", "Welcome to the gorelay network alice"),
			":irc.test 001 alice :Welcome to the gorelay network alice\r\n",
		},
		{
			"unregistered target",
			Numeric("irc.test", ERR_NOTREGISTERED, "", "You have not registered"),
			":irc.test 451 * :You have not registered\r\n",
		},
		{
			"server notice",
			Notice("irc.test", "bob", "Server shutting down"),
			":irc.test NOTICE bob :Server shutting down\r\n",
		},
		{
			"error line",
			ErrorLine("Closing Link: banned"),
			"ERROR :Closing Link: banned\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(Encode(tt.msg)); got != tt.want {
				t.Errorf("Encode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelayRoundTrip(t *testing.T) {
	msg := Relay(UserPrefix("alice", "", "10.0.0.1"), "PRIVMSG", "#general", "hi there")

	parsed, err := irc.ParseMessage(string(Encode(msg)[:len(Encode(msg))-2]))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if parsed.Prefix == nil {
		t.Fatal("relay lost its prefix")
	}
	got := []string{parsed.Prefix.Name, parsed.Prefix.User, parsed.Prefix.Host, parsed.Command}
	want := []string{"alice", "alice", "10.0.0.1", "PRIVMSG"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("prefix mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"#general", "hi there"}, parsed.Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}
