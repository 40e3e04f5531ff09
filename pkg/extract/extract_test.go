package extract

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// minimalPDF builds a single-page PDF showing text with a standard font.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	text, err := Extract(minimalPDF("Hello essay"))
	require.NoError(t, err)
	require.Contains(t, text, "Hello essay")
}

func TestExtractPlainText(t *testing.T) {
	text, err := Extract([]byte("나의 꿈은 선생님입니다."))
	require.NoError(t, err)
	require.Equal(t, "나의 꿈은 선생님입니다.", text)
}

func TestExtractCommaHeavyProseAsText(t *testing.T) {
	essays := []string{
		"첫째, 환경은 중요하다, 그래서 보호해야 한다.\n둘째, 자원은 유한하다, 따라서 아껴야 한다.\n셋째, 미래 세대가 있다, 그들을 생각해야 한다.\n",
		"First, the climate is changing, and we must act.\nSecond, energy is finite, so we should save it.\nThird, habits matter, because they add up.\n",
	}
	for _, essay := range essays {
		data := []byte(essay)
		require.True(t, mimetype.Detect(data).Is("text/csv"), "sniffed as %s", mimetype.Detect(data))

		text, err := Extract(data)
		require.NoError(t, err)
		require.Equal(t, essay, text)
	}

	tabbed := "서론\t문제 제기\n본론\t근거 제시\n결론\t요약\n"
	text, err := Extract([]byte(tabbed))
	require.NoError(t, err)
	require.Equal(t, tabbed, text)
}

func TestExtractRejectsUnsupportedAndEmpty(t *testing.T) {
	_, err := Extract(nil)
	require.True(t, errors.Is(err, ErrEmptyDocument))

	_, err = Extract([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0})
	require.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestExtractorTextNeverFails(t *testing.T) {
	extractor := New(zerolog.Nop())
	require.Empty(t, extractor.Text("broken.pdf", []byte("%PDF-1.4\ngarbage")))
	require.Empty(t, extractor.Text("empty.pdf", nil))
	require.Equal(t, "plain", extractor.Text("essay.txt", []byte("plain")))
}
