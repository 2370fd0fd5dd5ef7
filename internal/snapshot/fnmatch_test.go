package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFnmatchTopLevelOnly(t *testing.T) {
	assert.True(t, fnmatch("node_modules", "node_modules"))
	assert.False(t, fnmatch("node_modules", "src/node_modules"))
}

func TestFnmatchStarCrossesSeparator(t *testing.T) {
	assert.True(t, fnmatch("*.tmp", "build.tmp"))
	assert.True(t, fnmatch("*.tmp", "src/deep/build.tmp"))
}

func TestFnmatchCharClass(t *testing.T) {
	assert.True(t, fnmatch("file[0-9].txt", "file1.txt"))
	assert.False(t, fnmatch("file[0-9].txt", "filea.txt"))
}
