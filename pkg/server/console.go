package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// consoleOperator is the name console actions are audited under.
const consoleOperator = "console"

const consoleHelp = `commands:
  help                       show this text
  who                        list connected sessions
  channels                   list channels
  bans                       list bans
  kick <target> [reason]     disconnect a nick or every session from an address
  ban <target> [reason]      ban a nick's address or a literal address
  unban <address>            remove an address ban
  bannick <nick> [reason]    ban an identity
  unbannick <nick>           remove an identity ban
  addchan <#name> [topic]    create a channel
  rmchan <#name>             remove an empty channel
  msg <target> <text>        send a server notice to a nick or channel
  broadcast <text>           send a server notice to everyone
  shutdown                   stop the server
`

// Console is the local operator console. It reads one command per line.
type Console struct {
	admin *Admin
	in    io.Reader
	out   io.Writer
}

// NewConsole creates a console reading commands from in and writing results
// to out.
func NewConsole(admin *Admin, in io.Reader, out io.Writer) *Console {
	return &Console{admin: admin, in: in, out: out}
}

// Run processes commands until in is exhausted, ctx is cancelled or a
// shutdown command is executed.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if stop := c.Exec(line); stop {
				return nil
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() {
	_, _ = fmt.Fprint(c.out, "> ")
}

// Exec runs one console command line and reports whether it was shutdown.
func (c *Console) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}
	usage := func(u string) {
		c.printf("usage: %s\n", u)
	}

	switch cmd {
	case "help", "?":
		c.printf("%s", consoleHelp)
	case "who":
		c.who()
	case "channels":
		c.channels()
	case "bans":
		c.bans()
	case "kick":
		if len(args) < 1 {
			usage("kick <target> [reason]")
			return false
		}
		n, err := c.admin.Kick(consoleOperator, args[0], rest(1))
		c.result(err, "kicked %d session(s)", n)
	case "ban":
		if len(args) < 1 {
			usage("ban <target> [reason]")
			return false
		}
		b, err := c.admin.Ban(consoleOperator, args[0], rest(1))
		c.result(err, "banned %s", b.Value)
	case "unban":
		if len(args) != 1 {
			usage("unban <address>")
			return false
		}
		c.result(c.admin.Unban(consoleOperator, args[0]), "unbanned %s", args[0])
	case "bannick":
		if len(args) < 1 {
			usage("bannick <nick> [reason]")
			return false
		}
		b, err := c.admin.BanNick(consoleOperator, args[0], rest(1))
		c.result(err, "banned nick %s", b.Value)
	case "unbannick":
		if len(args) != 1 {
			usage("unbannick <nick>")
			return false
		}
		c.result(c.admin.UnbanNick(consoleOperator, args[0]), "unbanned nick %s", args[0])
	case "addchan":
		if len(args) < 1 {
			usage("addchan <#name> [topic]")
			return false
		}
		info, err := c.admin.AddChannel(consoleOperator, args[0], rest(1))
		c.result(err, "created %s", info.Name)
	case "rmchan":
		if len(args) != 1 {
			usage("rmchan <#name>")
			return false
		}
		c.result(c.admin.RemoveChannel(consoleOperator, args[0]), "removed %s", args[0])
	case "msg":
		if len(args) < 2 {
			usage("msg <target> <text>")
			return false
		}
		c.result(c.admin.Message(consoleOperator, args[0], rest(1)), "sent")
	case "broadcast":
		if len(args) < 1 {
			usage("broadcast <text>")
			return false
		}
		n := c.admin.Broadcast(consoleOperator, rest(0))
		c.printf("sent to %d session(s)\n", n)
	case "shutdown":
		c.printf("shutting down\n")
		c.admin.Shutdown(consoleOperator)
		return true
	default:
		c.printf("unknown command %q (try help)\n", cmd)
	}
	return false
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) result(err error, format string, args ...any) {
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printf(format+"\n", args...)
}

func (c *Console) who() {
	sessions := c.admin.Sessions()
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NICK\tADDRESS\tTRANSPORT\tCHANNELS\tCONNECTED")
	for _, s := range sessions {
		nick := s.Nick
		if !s.Registered() {
			nick = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			nick, s.Address, s.Transport, strings.Join(s.Channels, ","),
			time.Since(s.ConnectedAt).Truncate(time.Second))
	}
	_ = tw.Flush()
	c.printf("%d session(s)\n", len(sessions))
}

func (c *Console) channels() {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CHANNEL\tUSERS\tTOPIC")
	for _, ch := range c.admin.Channels() {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", ch.Name, len(ch.Members), ch.Topic)
	}
	_ = tw.Flush()
}

func (c *Console) bans() {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tVALUE\tSET BY\tREASON")
	for _, b := range c.admin.Bans() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Kind, b.Value, b.SetBy, b.Reason)
	}
	_ = tw.Flush()
}
