package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/go-go-golems/chatwidget/pkg/assembler"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/linkify"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/go-go-golems/chatwidget/pkg/widget"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
)

// LineMode is the non-interactive front end: each input line is submitted,
// reply fragments are printed as they arrive and notices go on their own
// lines.
type LineMode struct {
	session *widget.Session
	in      io.Reader
	out     io.Writer
	profile termenv.Profile

	streaming bool
}

func NewLineMode(session *widget.Session, in io.Reader, out io.Writer, profile termenv.Profile) *LineMode {
	return &LineMode{session: session, in: in, out: out, profile: profile}
}

// Run returns when ctx is done, or once input reached EOF and no reply is
// pending. Lines read before the connection is up are held until it connects;
// once the manager gives up they are submitted so each one gets a notice.
func (l *LineMode) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(l.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for _, msg := range l.session.View(ctx).Messages {
		if _, err := fmt.Fprintf(l.out, "%s> %s\n", msg.Role, l.content(msg.Role, msg.Content)); err != nil {
			return err
		}
	}

	var (
		held   []string
		eof    bool
		gaveUp error
	)
	events := l.session.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return errors.Wrap(err, "read input")
			}
			eof, lines, readErr = true, nil, nil
		case line := <-lines:
			if !l.session.CanSubmit(line) {
				continue
			}
			if gaveUp == nil && l.session.View(ctx).State != connection.StateConnected {
				held = append(held, line)
				continue
			}
			l.submit(ctx, line)
		case ev := <-events:
			u, err := l.session.HandleEvent(ctx, ev)
			if err != nil {
				l.session.Notify(widget.NoticeError, err.Error())
				l.notice(widget.Notice{Level: widget.NoticeError, Text: err.Error()})
				continue
			}
			l.apply(u)
			switch ev.Kind {
			case connection.EventConnect:
				gaveUp = nil
				l.flush(ctx, held)
				held = nil
			case connection.EventReconnectFailed:
				gaveUp = errors.Errorf("connection failed: %s", ev.Reason())
				l.flush(ctx, held)
				held = nil
			}
		}

		if eof && len(held) == 0 {
			if gaveUp != nil {
				return gaveUp
			}
			v := l.session.View(ctx)
			if !v.Thinking && !v.Streaming {
				return nil
			}
		}
	}
}

func (l *LineMode) flush(ctx context.Context, held []string) {
	for _, line := range held {
		l.submit(ctx, line)
	}
}

func (l *LineMode) submit(ctx context.Context, line string) {
	if err := l.session.Submit(ctx, line); err != nil {
		if n, ok := lastNotice(l.session.View(ctx)); ok {
			l.notice(n)
		}
	}
}

func (l *LineMode) apply(u widget.Update) {
	switch u.Outcome.Action {
	case assembler.ActionAppended:
		if !l.streaming {
			_, _ = fmt.Fprint(l.out, "agent> ")
			l.streaming = true
		}
		_, _ = fmt.Fprint(l.out, linkify.Sanitize(u.Outcome.Fragment))
	case assembler.ActionFinalized:
		l.endStream()
		for _, s := range linkify.Collect(linkify.Sanitize(u.Outcome.Message.Content)) {
			if s.Kind == linkify.KindLink && s.Text != s.URL {
				_, _ = fmt.Fprintf(l.out, "  link: %s <%s>\n", s.Text, s.URL)
			}
		}
	}
	if u.Notice != nil {
		l.endStream()
		l.notice(*u.Notice)
	}
}

func (l *LineMode) endStream() {
	if l.streaming {
		_, _ = fmt.Fprintln(l.out)
		l.streaming = false
	}
}

func (l *LineMode) notice(n widget.Notice) {
	_, _ = fmt.Fprintf(l.out, "[%s] %s\n", n.Level, linkify.Sanitize(n.Text))
}

func (l *LineMode) content(role transcript.Role, content string) string {
	if role == transcript.RoleUser {
		return linkify.Sanitize(content)
	}
	return linkify.Terminal(content, l.profile)
}
