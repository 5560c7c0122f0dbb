package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"boomfare/internal/contact"
	"boomfare/internal/session"
	"boomfare/internal/syncloop"
	"boomfare/internal/user"
)

var openCmd = &cobra.Command{
	Use:   "open <username> <password>",
	Short: "Sign in and start an interactive session",
	Long: `Sign in and read commands from stdin. Plain lines are sent to the open
conversation.

Commands:
  /users [term]     list people
  /verified [term]  list verified people
  /add <username>   add a contact
  /open <username>  open a conversation
  /me               show your profile
  /bio <text>       update your bio
  /quit             leave`,
	Args: cobra.ExactArgs(2),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, client, log, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if _, err := client.Login(ctx, args[0], args[1]); err != nil {
		return err
	}

	loopCfg := syncloop.DefaultConfig()
	loopCfg.PollInterval = cfg.PollInterval
	loopCfg.MaxAttempts = cfg.MaxAttempts
	loopCfg.Backoff = cfg.Backoff
	loopCfg.MaxBackoff = cfg.MaxBackoff

	s, err := session.Open(ctx, client, session.Options{
		Policy: contact.Policy{RequireContact: cfg.RequireContact},
		Sync:   loopCfg,
		Log:    log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := newREPL(s, cmd.OutOrStdout())

	// stdin cannot be interrupted, so the reader is left out of the group
	readErr := make(chan error, 1)
	go func() {
		readErr <- r.read(ctx, os.Stdin)
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error {
		r.watch(gctx)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	select {
	case rerr := <-readErr:
		if err == nil {
			err = rerr
		}
	default:
	}
	if logoutErr := client.Logout(context.Background()); logoutErr != nil {
		log.Warn().Err(logoutErr).Msg("logout")
	}
	return err
}

type repl struct {
	s *session.Session

	mu    sync.Mutex
	out   io.Writer
	peer  string
	shown map[string]bool
}

var errQuit = errors.New("quit")

func newREPL(s *session.Session, out io.Writer) *repl {
	return &repl{s: s, out: out, shown: make(map[string]bool)}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// read feeds stdin lines to handle until EOF or /quit.
func (r *repl) read(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		err := r.handle(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.printf("❌ %v\n", err)
		}
	}
	return sc.Err()
}

func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := r.s.Send(ctx, line)
		return err
	}

	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch verb {
	case "/quit":
		return errQuit
	case "/users":
		r.list(contact.FilterAll, arg)
	case "/verified":
		r.list(contact.FilterVerifiedOnly, arg)
	case "/add":
		u, err := r.resolve(arg)
		if err != nil {
			return err
		}
		if _, err := r.s.AddContact(ctx, u.ID); err != nil {
			return err
		}
		r.printf("✅ added %s\n", user.DisplayName(u))
	case "/open":
		u, err := r.resolve(arg)
		if err != nil {
			return err
		}
		if err := r.s.Select(ctx, u.ID); err != nil {
			return err
		}
		r.printf("💬 %s · %s\n", label(u), user.StatusLine(u))
	case "/me":
		me, ok := r.s.Directory.Lookup(r.s.Self.ID)
		if !ok {
			me = r.s.Self
		}
		r.printf("%s · %s\n", label(me), user.StatusLine(me))
	case "/bio":
		if err := r.s.Directory.UpdateProfile(ctx, user.ProfileUpdate{Bio: &arg}); err != nil {
			return err
		}
		r.printf("✅ bio updated\n")
	default:
		return fmt.Errorf("unknown command %s", verb)
	}
	return nil
}

func (r *repl) list(filter contact.Filter, term string) {
	people := r.s.Contacts.ListContacts(filter, term)
	if len(people) == 0 {
		r.printf("no one found\n")
		return
	}
	for _, p := range people {
		mark := " "
		if p.Added {
			mark = "+"
		}
		r.printf("%s %s  %s\n", mark, label(p.User), user.StatusLine(p.User))
	}
}

func (r *repl) resolve(name string) (user.User, error) {
	name = strings.TrimPrefix(name, "@")
	for _, u := range r.s.Directory.Users() {
		if strings.EqualFold(u.Username, name) || u.ID == name {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("%w: %q", user.ErrNotFound, name)
}

// watch prints conversation snapshots as they arrive, new messages only.
func (r *repl) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-r.s.Loop.Updates():
			r.render(u)
		}
	}
}

func (r *repl) render(u syncloop.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.OtherID != r.peer {
		r.peer = u.OtherID
		r.shown = make(map[string]bool)
	}
	if u.Err != nil {
		fmt.Fprintf(r.out, "⚠️  %v\n", u.Err)
	}
	for _, m := range u.Messages {
		if r.shown[m.ID] {
			continue
		}
		r.shown[m.ID] = true
		from := "you"
		if m.SenderID != r.s.Self.ID {
			from = "them"
			if peer, ok := r.s.Directory.Lookup(m.SenderID); ok {
				from = user.DisplayName(peer)
			}
		}
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), from, m.Content)
	}
}

func label(u user.User) string {
	name := user.DisplayName(u)
	if b, ok := user.BadgeFor(u.VerificationTier); ok {
		return fmt.Sprintf("%s [%s %s]", name, b.Icon, b.Label)
	}
	return name
}
