package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
)

func TestSession_NotStarted(t *testing.T) {
	session := NewSession(common.BrowserConfig{}, arbor.NewLogger())
	ctx := context.Background()

	_, err := session.CurrentHTML(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, session.ScrollToBottom(ctx), ErrNotStarted)

	tabCtx, cancel := session.NewTab()
	defer cancel()
	assert.ErrorIs(t, context.Cause(tabCtx), ErrNotStarted)

	assert.NoError(t, session.Shutdown())
}

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome binary found")
}

func TestSession_PaginatesRenderedList(t *testing.T) {
	requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body>
<div id="list">page 1</div>
<ul><li class="ant-pagination-next"><button onclick="
  document.getElementById('list').textContent = 'page 2';
  this.parentElement.classList.add('ant-pagination-disabled');
">next</button></li></ul>
</body></html>`)
	}))
	defer server.Close()

	session := NewSession(common.BrowserConfig{
		StartURL:       server.URL,
		Headless:       true,
		NoSandbox:      true,
		RequestTimeout: common.Duration(30 * time.Second),
	}, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, session.Start(ctx))
	defer session.Shutdown()

	paginator := NewPaginator(session, common.DefaultSelectors().NextPage, 0, arbor.NewLogger())

	html, err := session.CurrentHTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "page 1")

	require.NoError(t, session.ScrollToBottom(ctx))
	require.NoError(t, session.ScrollToTop(ctx))

	advanced, err := paginator.Advance(ctx, nil)
	require.NoError(t, err)
	assert.True(t, advanced)

	html, err = session.CurrentHTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "page 2")

	advanced, err = paginator.Advance(ctx, nil)
	require.NoError(t, err)
	assert.False(t, advanced, "disabled next control ends pagination")
}
