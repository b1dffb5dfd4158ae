package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func renderEvent(w io.Writer, e *types.Event) {
	switch e.Type {
	case types.EventTypeLog:
		fmt.Fprintf(w, "%s %s\n", e.Time.Format("15:04:05"), e.Message)
	case types.EventTypeProgress:
		fmt.Fprintf(w, "[%3d%%] %s\n", percent(e.Current, e.Total), e.Message)
	}
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return current * 100 / total
}

func printNotes(res *types.SearchResult) {
	t := newTable()
	t.SetTitle("%q: %d notes", res.Keyword, len(res.Notes))
	t.AppendHeader(table.Row{"#", "Title", "Author", "Likes", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
	})
	for i, n := range res.Notes {
		t.AppendRow(table.Row{i + 1, n.Title, n.AuthorName, n.LikeCount, n.NoteURL})
	}
	t.Render()
}

func printDetail(n *types.NoteDetail) {
	t := newTable()
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})
	t.AppendRows([]table.Row{
		{"Note", n.NoteID},
		{"URL", n.NoteURL},
		{"Title", n.Title},
		{"Content", n.Content},
		{"Tags", strings.Join(n.Tags, ", ")},
		{"Images", strings.Join(n.ImageURLs, "\n")},
	})
	t.Render()
}

// userView is the printable form of a session; cookie values stay on disk.
type userView struct {
	UserID      string    `json:"userId"`
	Nickname    string    `json:"nickname"`
	RedID       string    `json:"redId"`
	AvatarURL   string    `json:"avatar,omitempty"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	Cookies     int       `json:"cookies"`
	LastLoginAt time.Time `json:"lastLoginTime"`
}

func viewOf(s *session.UserSession) userView {
	return userView{
		UserID:      s.UserID,
		Nickname:    s.Nickname,
		RedID:       s.RedID,
		AvatarURL:   s.AvatarURL,
		Description: s.Description,
		Active:      s.Active,
		Cookies:     len(s.Cookies),
		LastLoginAt: s.LastLoginAt,
	}
}
