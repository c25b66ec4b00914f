package processor_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/jurisrag/pkg/processor"
)

func TestProcessor_ShortTextIsOneChunk(t *testing.T) {
	p := processor.New()

	chunks, err := p.Process([]byte("Article 5 sets out the principles.\n\nArticle 6 covers lawful basis."), "text/plain")

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "Article 6")
}

func TestProcessor_LongTextOverlaps(t *testing.T) {
	p := processor.New()

	words := make([]string, 600)
	for i := range words {
		words[i] = fmt.Sprintf("w%03d", i)
	}
	text := strings.Join(words, " ")

	chunks, err := p.Chunk(text)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 1000)
	}

	// the second chunk starts inside the tail of the first one
	head := strings.Fields(chunks[1])[0]
	assert.Contains(t, chunks[0], head)
	assert.NotEqual(t, words[0], head)
}

func TestProcessor_PrefersParagraphBoundaries(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 60, ChunkOverlap: 10})

	text := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)
	chunks, err := p.Chunk(text)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 40), chunks[0])
	assert.Equal(t, strings.Repeat("b", 40), chunks[1])
}

func TestProcessor_EmptyText(t *testing.T) {
	p := processor.New()

	_, err := p.Process([]byte("   \n\t "), "text/plain")
	assert.ErrorIs(t, err, processor.ErrNoText)

	chunks, err := p.Chunk("")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestExtract_Latin1Fallback(t *testing.T) {
	p := processor.New()

	text, err := p.Extract([]byte("caf\xe9"), "text/plain; charset=iso-8859-1")

	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestExtract_HTML(t *testing.T) {
	p := processor.New()
	html := `<html><head><title>t</title><script>var x = 1;</script></head>
<body><nav>Menu</nav><main><h1>Data Protection</h1>
<p>Controllers   must   keep records.</p></main></body></html>`

	text, err := p.Extract([]byte(html), "text/html")

	require.NoError(t, err)
	assert.Contains(t, text, "Data Protection")
	assert.Contains(t, text, "Controllers must keep records.")
	assert.NotContains(t, text, "Menu")
	assert.NotContains(t, text, "var x")
}

func TestExtract_InvalidPDF(t *testing.T) {
	p := processor.New()

	_, err := p.Extract([]byte("definitely not a pdf"), "application/pdf")

	assert.ErrorIs(t, err, processor.ErrUnreadable)
}

// buildPDF writes a minimal uncompressed PDF with one page per content
// stream and a classic xref table.
func buildPDF(contents ...string) []byte {
	kids := make([]string, len(contents))
	for i := range contents {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(contents)),
	}
	for i, c := range contents {
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R >>", 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func textPage(s string) string { return "BT\n(" + s + ") Tj\nET" }

// brokenPage has a text operator without its operand.
const brokenPage = "BT\nTj\nET"

func TestExtract_PDFPages(t *testing.T) {
	p := processor.New()
	data := buildPDF(textPage("Article five principles"), textPage("Article six lawful basis"))

	text, err := p.Extract(data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Article five principles\n\nArticle six lawful basis", text)

	chunks, err := p.Process(data, "application/pdf")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "lawful basis")
}

func TestExtract_PDFSkipsUnreadablePage(t *testing.T) {
	p := processor.New()
	data := buildPDF(textPage("Article five principles"), brokenPage, textPage("Article six lawful basis"))

	text, err := p.Extract(data, "application/pdf")

	require.NoError(t, err)
	assert.Equal(t, "Article five principles\n\nArticle six lawful basis", text)
}

func TestProcess_PDFWithoutReadablePages(t *testing.T) {
	p := processor.New()
	data := buildPDF(brokenPage, "")

	text, err := p.Extract(data, "application/pdf")
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = p.Process(data, "application/pdf")
	assert.ErrorIs(t, err, processor.ErrNoText)
}
