package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	got := DedupeAndTrim([]string{" https://a ", "https://b", "https://a", "", "  "})
	assert.Equal(t, []string{"https://a", "https://b"}, got)
	assert.Empty(t, DedupeAndTrim(nil))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitList("a:9092, b:9092,,a:9092"))
	assert.Empty(t, SplitList(" , "))
}
