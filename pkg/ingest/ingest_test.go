package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nortis/idverify/pkg/ingest"
)

func TestParseFileText(t *testing.T) {
	content := []byte("12345678\n1234567\n123456789\nabcdefgh\n12345678.0\n  \nnan\n12345678\n")

	result, err := ingest.ParseFile("entries.txt", content)
	assert.NoError(t, err)
	assert.Equal(t, []string{"12345678"}, result.Accepted)
	assert.ElementsMatch(t, []string{"1234567", "123456789", "abcdefgh"}, result.Rejected)
}

func TestParseFileCSV(t *testing.T) {
	content := []byte("DNI,name\n10000001,Alice\n10000002,Bob\n10000001,Dup\n")

	result, err := ingest.ParseFile("batch.csv", content)
	assert.NoError(t, err)
	assert.Equal(t, []string{"10000001", "10000002"}, result.Accepted)
	assert.Empty(t, result.Rejected)
}

func TestParseFileUnsupportedExtension(t *testing.T) {
	_, err := ingest.ParseFile("entries.pdf", []byte("whatever"))
	assert.Error(t, err)
}

func TestParseFileDeduplicatesPreservingOrder(t *testing.T) {
	content := []byte("10000002\n10000001\n10000002\n10000001\n")

	result, err := ingest.ParseFile("entries.txt", content)
	assert.NoError(t, err)
	assert.Equal(t, []string{"10000002", "10000001"}, result.Accepted)
}
