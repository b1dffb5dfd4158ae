package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

const replayManifest = `pages:
  - url: "https://www.xiaohongshu.com/search_result*"
    file: search.html
`

const replaySearch = `<html><body>
<ul class="side-bar"><li class="user side-bar-component"><a href="/user/profile/u1">Me</a></li></ul>
<div class="feeds-container">
  <section class="note-item">
    <a class="cover" href="/search_result/64a1b2c3000000001e03a1f2"><img src="https://img.example/c.jpg"></a>
    <a class="title"><span>Weekend coffee guide</span></a>
  </section>
</div>
</body></html>`

type env struct {
	configPath string
	storeDir   string
	replayDir  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		configPath: filepath.Join(root, "rednote.yaml"),
		storeDir:   filepath.Join(root, "users"),
		replayDir:  filepath.Join(root, "replay"),
	}
	cfg := "store:\n  dir: " + e.storeDir + "\nlog:\n  dir: " + filepath.Join(root, "logs") + "\ncrawl:\n  container_timeout: 50ms\nlogin:\n  status_timeout: 50ms\n"
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0o600))

	require.NoError(t, os.MkdirAll(e.replayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.replayDir, "pages.yaml"), []byte(replayManifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(e.replayDir, "search.html"), []byte(replaySearch), 0o600))

	store, err := session.NewFileStore(e.storeDir, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &session.UserSession{
		UserID:   "u1",
		Nickname: "Ada",
		Active:   true,
		Cookies:  []types.Cookie{{Name: "web_session", Value: "secret", Domain: ".xiaohongshu.com", Path: "/"}},
	}))
	require.NoError(t, store.Save(ctx, &session.UserSession{UserID: "u2"}))
	return e
}

// run executes the CLI and returns what it printed to stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	out := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		out <- buf.String()
	}()

	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--replay-dir", e.replayDir, "--quiet"}, args...))
	runErr := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close())

	require.NoError(t, w.Close())
	return <-out, runErr
}

func TestUsersList(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "users", "list", "--json")
	require.NoError(t, err)

	var users []userView
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].UserID)
	assert.True(t, users[0].Active)
	assert.Equal(t, 1, users[0].Cookies)
	assert.NotContains(t, out, "secret")
}

func TestUsersDelete(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "users", "delete", "u2")
	require.NoError(t, err)

	_, err = e.run(t, "users", "delete", "u2")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSearchFromReplay(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "search", "--user", "u1", "--json", "coffee")
	require.NoError(t, err)

	var res types.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "coffee", res.Keyword)
	require.Len(t, res.Notes, 1)
	assert.Equal(t, "64a1b2c3000000001e03a1f2", res.Notes[0].NoteID)
}

func TestSearchExitStatus(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "search", "--user", "u2", "coffee")

	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitLoginExpired, exit.code)
}

func TestPublishRequiresTitle(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "publish", "--user", "u1", "--image", "a.jpg")
	assert.ErrorContains(t, err, "title is empty")
}
