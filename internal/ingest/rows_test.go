package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRows_Basic(t *testing.T) {
	input := "\xEF\xBB\xBFCase Number, Status ,Address\nCC-1,OPEN,100 Main St\n\n,,\nCC-2,COMPLIED\n"
	rows, err := ReadRows(context.Background(), strings.NewReader(input), "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"Case Number": "CC-1", "Status": "OPEN", "Address": "100 Main St"}, rows[0])
	assert.Equal(t, "", rows[1]["Address"])
	assert.Equal(t, "COMPLIED", rows[1]["Status"])
}

func TestReadRows_ExtraColumnsAndBlankHeaders(t *testing.T) {
	input := "Permit Number,,Status\nBP-1,ignored,ISSUED,trailing\n"
	rows, err := ReadRows(context.Background(), strings.NewReader(input), "utf-8")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"Permit Number": "BP-1", "Status": "ISSUED"}, rows[0])
}

func TestReadRows_Windows1252(t *testing.T) {
	// 0xE9 is e-acute in windows-1252.
	input := "Address\nCaf\xE9 Row\n"
	rows, err := ReadRows(context.Background(), strings.NewReader(input), "windows-1252")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Café Row", rows[0]["Address"])
}

func TestReadRows_UnknownCharset(t *testing.T) {
	_, err := ReadRows(context.Background(), strings.NewReader("a\n1\n"), "klingon")
	require.Error(t, err)
}

func TestReadRows_Empty(t *testing.T) {
	rows, err := ReadRows(context.Background(), strings.NewReader(""), "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadRows_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadRows(ctx, strings.NewReader("a\n1\n2\n"), "")
	require.Error(t, err)
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExpandZIP(t *testing.T) {
	data := zipOf(t, map[string]string{
		"exports/violations.csv":        "Case Number\nCC-1\n",
		"__MACOSX/exports/._violations": "junk",
		"exports/":                      "",
	})

	files, err := ExpandZIP(data)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "violations.csv", files[0].Filename)
	assert.Equal(t, "Case Number\nCC-1\n", string(files[0].Data))
}

func TestExpandZIP_NotAZip(t *testing.T) {
	_, err := ExpandZIP([]byte("plain text"))
	require.Error(t, err)
}
