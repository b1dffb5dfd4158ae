package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceMarkup(t *testing.T) {
	raw := `<html><head><title>搜索结果</title><script>var x = 1;</script><style>.a{}</style></head>
<body><div class="feeds-container" data-v-1="x" onclick="evil()">
<!-- comment -->
<section class="note-item"><a class="cover" href="/search_result/abc"><img src="c.jpg" alt="cover"></a>
<span class="count">12</span></section>
<svg><path d="M0"/></svg>
</div></body></html>`

	snap, err := reduceMarkup(raw, 0)
	require.NoError(t, err)

	assert.Equal(t, "搜索结果", snap.Title)
	assert.False(t, snap.Truncated)
	assert.Contains(t, snap.Markup, `<div class="feeds-container" data-v-1="x">`)
	assert.Contains(t, snap.Markup, `<a class="cover" href="/search_result/abc">`)
	assert.Contains(t, snap.Markup, `<img src="c.jpg">`)
	assert.Contains(t, snap.Markup, "12")
	for _, absent := range []string{"script", "var x", ".a{}", "comment", "svg", "onclick", "alt="} {
		assert.NotContains(t, snap.Markup, absent)
	}
}

func TestReduceMarkupTruncates(t *testing.T) {
	raw := "<html><body>" + strings.Repeat(`<div class="row">text</div>`, 200) + "</body></html>"

	snap, err := reduceMarkup(raw, 300)
	require.NoError(t, err)
	assert.True(t, snap.Truncated)
	assert.LessOrEqual(t, len(snap.Markup), 300)
}

func TestReduceMarkupShortensText(t *testing.T) {
	raw := "<html><body><p>" + strings.Repeat("长", 100) + "</p></body></html>"

	snap, err := reduceMarkup(raw, 0)
	require.NoError(t, err)
	assert.Contains(t, snap.Markup, strings.Repeat("长", maxTextRun)+"…")
	assert.NotContains(t, snap.Markup, strings.Repeat("长", maxTextRun+1))
}
