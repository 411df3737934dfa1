package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"campusmarket/internal/app/chat"
)

const chatHelp = `commands:
  <text>            send a message (with any attached images)
  /attach <path>    add an image to the next message (max 3)
  /drop             forget attached images
  /like <n>         toggle like on message n
  /retry            resend failed messages
  /discard          drop failed messages
  /quit             leave`

func chatAction(c *cli.Context) error {
	id, err := conversationArg(c)
	if err != nil {
		return err
	}
	client, err := signedInClient(c)
	if err != nil {
		return err
	}

	var out *transcript
	m, err := openMessenger(c.Context, c, client, func(entries []chat.Entry) {
		if out != nil {
			out.render(entries)
		}
	})
	if err != nil {
		return err
	}
	defer m.Close()
	out = newTranscript(c.App.Writer, m.Me().ID)

	stream, err := m.Select(c.Context, id)
	if err != nil {
		return err
	}
	out.render(stream.Entries())
	fmt.Fprintln(c.App.Writer, chatHelp)

	s := &chatSession{ctx: c.Context, w: c.App.Writer, messenger: m, stream: stream, transcript: out}
	defer s.dropDraft()
	return s.loop(os.Stdin)
}

type chatSession struct {
	ctx        context.Context
	w          io.Writer
	messenger  *chat.Messenger
	stream     *chat.Stream
	transcript *transcript

	draft   chat.Draft
	closers []func()
}

func (s *chatSession) loop(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.stream.Wait()
				return nil
			}
			if quit := s.handle(strings.TrimSpace(line)); quit {
				s.stream.Wait()
				return nil
			}
		}
	}
}

func (s *chatSession) handle(line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		return false
	case "/quit", "/q":
		return true
	case "/help":
		fmt.Fprintln(s.w, chatHelp)
	case "/attach":
		s.attach(arg)
	case "/drop":
		s.dropDraft()
	case "/like":
		s.like(arg)
	case "/retry":
		s.eachFailed(s.stream.Retry)
	case "/discard":
		s.eachFailed(s.stream.Discard)
	default:
		s.send(line)
	}
	return false
}

func (s *chatSession) attach(path string) {
	if path == "" {
		fmt.Fprintln(s.w, "usage: /attach <path>")
		return
	}
	file, err := openFile(path)
	if err != nil {
		fmt.Fprintln(s.w, "cannot open:", err)
		return
	}
	closer := file.Body.(*os.File)
	if err := s.draft.Add(file); err != nil {
		_ = closer.Close()
		fmt.Fprintln(s.w, "not attached:", err)
		return
	}
	s.closers = append(s.closers, func() { _ = closer.Close() })
	fmt.Fprintf(s.w, "attached %s (%d/3)\n", file.Name, s.draft.Len())
}

func (s *chatSession) dropDraft() {
	for _, closeFn := range s.closers {
		closeFn()
	}
	s.closers = nil
	s.draft.Reset()
}

func (s *chatSession) send(text string) {
	composer, err := s.messenger.Composer()
	if err != nil {
		fmt.Fprintln(s.w, "error:", err)
		return
	}
	if composer.Busy() {
		fmt.Fprintln(s.w, "still sending the previous message")
		return
	}
	if _, err := composer.SubmitDraft(s.ctx, text, &s.draft); err != nil {
		if errors.Is(err, chat.ErrComposerBusy) {
			fmt.Fprintln(s.w, "still sending the previous message")
			return
		}
		fmt.Fprintln(s.w, "not sent:", err)
		if s.draft.Len() > 0 {
			// partially read files cannot be sent again
			s.dropDraft()
			fmt.Fprintln(s.w, "attachments dropped, /attach them again")
		}
		return
	}
	// uploads are done once SubmitDraft returns
	for _, closeFn := range s.closers {
		closeFn()
	}
	s.closers = nil
}

func (s *chatSession) like(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintln(s.w, "usage: /like <n>")
		return
	}
	id, ok := s.transcript.messageID(n)
	if !ok {
		fmt.Fprintln(s.w, "no message", n)
		return
	}
	if err := s.stream.ToggleLike(id); err != nil {
		fmt.Fprintln(s.w, "like:", err)
	}
}

func (s *chatSession) eachFailed(fn func(string) error) {
	count := 0
	for _, e := range s.stream.Entries() {
		if e.Kind != chat.EntryFailed {
			continue
		}
		if err := fn(e.TempID); err != nil {
			fmt.Fprintln(s.w, "error:", err)
			continue
		}
		count++
	}
	if count == 0 {
		fmt.Fprintln(s.w, "nothing failed")
	}
}
