package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<html>
  <head>
    <title>Sample Page</title>
    <meta name="description" content="  Short description here " />
  </head>
  <body>
    <h1>Hello World</h1>
    <p>First paragraph with content.</p>
    <img src="/img/a.jpg" width="600" height="400" />
    <img src="https://cdn.example/b.png" width="80px" />
    <img src="c.gif" />
    <a href="https://example.com/about">About</a>
    <a href="https://Example.com/team">Team</a>
    <a href="https://other.example/">Other</a>
    <a href="/local">Local</a>
  </body>
</html>`

func TestFromHTMLScenario(t *testing.T) {
	t.Parallel()

	rec, err := FromHTML("https://site.test/page", samplePage)
	require.NoError(t, err)

	require.Equal(t, "https://site.test/page", rec.Identity)
	require.Equal(t, "Short description here", rec.Bio)
	require.Equal(t, []string{"Short description here", "Hello World", "First paragraph with content."}, rec.Captions)

	require.Len(t, rec.Images, 3)
	require.Equal(t, "https://site.test/img/a.jpg", rec.Images[0].URL)
	require.Equal(t, 600, *rec.Images[0].Width)
	require.Equal(t, 400, *rec.Images[0].Height)
	require.Nil(t, rec.Images[1].Width, "non-numeric width is dropped")
	require.Equal(t, "https://site.test/c.gif", rec.Images[2].URL)

	require.Equal(t, []string{"example.com", "other.example", "site.test"}, rec.LinkDomains)
	require.Zero(t, rec.Followers)
	require.Nil(t, rec.RecentActivityTS)
}

func TestFromHTMLMetaAndTwoOutboundLinks(t *testing.T) {
	t.Parallel()

	page := `<html><head><meta property="og:description" content="A page about things"></head><body>
		<img src="/1.jpg"><img src="/2.jpg"><img src="/3.jpg">
		<a href="https://one.example/x">1</a><a href="https://two.example/y">2</a>
	</body></html>`
	rec, err := FromHTML("https://host.example/", page)
	require.NoError(t, err)
	require.Equal(t, "A page about things", rec.Bio)
	require.Len(t, rec.Images, 3)
	require.Equal(t, []string{"one.example", "two.example"}, rec.LinkDomains)
}

func TestFromHTMLBoundedExtraction(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<html><head><meta name="description" content="desc"></head><body>`)
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, `<h2>heading %d</h2><p>para %d</p><img src="/i/%d.jpg" width="%d">`, i, i, i, i)
		fmt.Fprintf(&b, `<a href="https://host%d.example/">l</a>`, i)
	}
	b.WriteString(`</body></html>`)

	rec, err := FromHTML("https://big.example/", b.String())
	require.NoError(t, err)
	require.Len(t, rec.Captions, MaxTexts)
	require.Equal(t, "desc", rec.Captions[0])
	require.Equal(t, "heading 0", rec.Captions[1])
	require.Len(t, rec.Images, MaxImages)
	require.Len(t, rec.LinkDomains, MaxLinkDomains)
	require.Equal(t, "host0.example", rec.LinkDomains[0])
	require.Equal(t, "host19.example", rec.LinkDomains[19])
}

func TestFromHTMLHeadingPriority(t *testing.T) {
	t.Parallel()

	page := `<body><p>para</p><h3>three</h3><h1>one</h1><h2>two</h2></body>`
	rec, err := FromHTML("https://prio.example/", page)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three", "para"}, rec.Captions)
	require.Equal(t, "one", rec.Bio)
}

func TestFromHTMLEmptyPage(t *testing.T) {
	t.Parallel()

	rec, err := FromHTML("https://empty.example/", "")
	require.NoError(t, err)
	require.Equal(t, "https://empty.example/", rec.Identity)
	require.Empty(t, rec.Bio)
	require.Empty(t, rec.Captions)
	require.Empty(t, rec.Images)
	require.Empty(t, rec.LinkDomains)
}

func TestFromHTMLRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := FromHTML("http://%zz", "<html></html>")
	require.Error(t, err)
}
