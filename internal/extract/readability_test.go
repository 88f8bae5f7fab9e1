package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadableText_PrefersArticleElement(t *testing.T) {
	html := `<html><body>
		<nav>home about contact</nav>
		<article><h1>Headline</h1><p>First paragraph.</p><p>Second paragraph.</p></article>
		<aside>related stories</aside>
		<footer>copyright</footer>
	</body></html>`

	text, err := ReadableText(html)
	require.NoError(t, err)
	assert.Equal(t, "Headline First paragraph. Second paragraph.", text)
}

func TestReadableText_FallsBackToBody(t *testing.T) {
	html := `<html><body><div><p>Plain page without landmarks.</p></div></body></html>`

	text, err := ReadableText(html)
	require.NoError(t, err)
	assert.Equal(t, "Plain page without landmarks.", text)
}

func TestReadableText_StripsScriptsAndStyles(t *testing.T) {
	html := `<html><body>
		<script>var tracking = true;</script>
		<style>p { color: red }</style>
		<main><p>Visible    text
		across lines.</p></main>
	</body></html>`

	text, err := ReadableText(html)
	require.NoError(t, err)
	assert.Equal(t, "Visible text across lines.", text)
	assert.NotContains(t, text, "tracking")
}

func TestReadableText_RoleMain(t *testing.T) {
	html := `<html><body>
		<header>site chrome</header>
		<div role="main"><p>Content in role container.</p></div>
	</body></html>`

	text, err := ReadableText(html)
	require.NoError(t, err)
	assert.Equal(t, "Content in role container.", text)
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords(""))
	assert.Equal(t, 0, CountWords("   \n\t"))
	assert.Equal(t, 4, CountWords("one two  three\nfour"))
}
