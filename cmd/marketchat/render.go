package main

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"campusmarket/internal/app/chat"
)

func formatPrice(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func formatInboxItem(item chat.InboxItem) string {
	title := item.ListingID
	if item.Listing != nil {
		title = item.Listing.Title
	}
	unread := ""
	if item.UnreadCount > 0 {
		unread = fmt.Sprintf(" (%d new)", item.UnreadCount)
	}
	when := ""
	if !item.LastActivity.IsZero() {
		when = item.LastActivity.Local().Format("Jan 2 15:04")
	}
	return fmt.Sprintf("%s  %-20s %-28s %s%s\n    %s", item.ConversationID, item.Counterpart.DisplayName, title, when, unread, item.Preview)
}

// transcript prints stream snapshots incrementally: an entry is printed when it first
// appears and again whenever its state or like count changes.
type transcript struct {
	w  io.Writer
	me string

	mu      sync.Mutex
	printed map[string]string
	numbers map[string]int
	byNum   []string
}

func newTranscript(w io.Writer, me string) *transcript {
	return &transcript{w: w, me: me, printed: map[string]string{}, numbers: map[string]int{}}
}

func entryKey(e chat.Entry) string {
	if e.TempID != "" {
		return e.TempID
	}
	return e.Message.ID
}

func (t *transcript) render(entries []chat.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		key := entryKey(e)
		state := fmt.Sprintf("%s|%d|%t", e.Kind, len(e.Message.LikedBy), e.Message.Read)
		if t.printed[key] == state {
			continue
		}
		first := t.printed[key] == ""
		t.printed[key] = state
		n, ok := t.numbers[key]
		if !ok && e.Kind == chat.EntryConfirmed {
			t.byNum = append(t.byNum, e.Message.ID)
			n = len(t.byNum)
			t.numbers[key] = n
		}
		if !first && e.Kind == chat.EntryConfirmed && !e.Mine(t.me) && len(e.Message.LikedBy) == 0 {
			// read-state flips on incoming messages are not worth a line
			continue
		}
		fmt.Fprintln(t.w, t.line(e, n))
	}
}

func (t *transcript) line(e chat.Entry, n int) string {
	who := e.Message.SenderName
	if e.Mine(t.me) || e.Kind != chat.EntryConfirmed {
		who = "you"
	}
	body := e.Message.Body
	for _, a := range e.Message.Attachments {
		body += " [" + a.Name + "]"
	}
	var b strings.Builder
	switch e.Kind {
	case chat.EntryPending:
		fmt.Fprintf(&b, "  …  %s: %s (sending)", who, body)
	case chat.EntryFailed:
		fmt.Fprintf(&b, "  !  %s: %s (failed: %v, /retry or /discard)", who, body, e.Err)
	default:
		fmt.Fprintf(&b, "%3d  %s: %s", n, who, body)
		if likes := len(e.Message.LikedBy); likes > 0 {
			fmt.Fprintf(&b, "  ♥%d", likes)
		}
		if e.Mine(t.me) && e.Message.Read {
			b.WriteString("  ✓✓")
		}
	}
	return b.String()
}

// messageID resolves a transcript number to a message id.
func (t *transcript) messageID(n int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 1 || n > len(t.byNum) {
		return "", false
	}
	return t.byNum[n-1], true
}

// openFiles opens image files for upload. The returned func closes them all.
func openFiles(paths []string) ([]chat.File, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]chat.File, 0, len(paths))
	for _, path := range paths {
		file, err := openFile(path)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, file.Body.(*os.File))
		files = append(files, file)
	}
	return files, closeAll, nil
}

func openFile(path string) (chat.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return chat.File{}, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return chat.File{}, err
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := f.Read(head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return chat.File{}, err
		}
	}
	return chat.File{Name: filepath.Base(path), ContentType: contentType, Size: info.Size(), Body: f}, nil
}
