package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksTextual(t *testing.T) {
	assert.True(t, LooksTextual("main.go"))
	assert.True(t, LooksTextual("README.md"))
	assert.False(t, LooksTextual("notes.txt"))
	assert.False(t, LooksTextual("photo.png"))
}

func TestLooksBinary(t *testing.T) {
	assert.True(t, LooksBinary([]byte("hello\x00world")))
	assert.False(t, LooksBinary([]byte("hello world")))
}

func TestThreeWayUnchangedSideWins(t *testing.T) {
	base := "line1\nline2\nline3\n"
	left := "line1\nCHANGED\nline3\n"
	right := base

	res := ThreeWay(base, left, right)
	assert.True(t, res.Success)
	assert.Equal(t, left, res.Content)
}

func TestThreeWayDisjointChangesMerge(t *testing.T) {
	base := "one\ntwo\nthree\nfour\n"
	left := "ONE\ntwo\nthree\nfour\n"
	right := "one\ntwo\nthree\nFOUR\n"

	res := ThreeWay(base, left, right)
	assert.True(t, res.Success)
	assert.Equal(t, "ONE\ntwo\nthree\nFOUR\n", res.Content)
}

func TestThreeWayOverlappingChangesConflict(t *testing.T) {
	base := "one\ntwo\nthree\n"
	left := "one\nLEFT\nthree\n"
	right := "one\nRIGHT\nthree\n"

	res := ThreeWay(base, left, right)
	assert.False(t, res.Success)
	assert.Contains(t, res.Content, "<<<<<<< LOCAL")
	assert.Contains(t, res.Content, "LEFT")
	assert.Contains(t, res.Content, "=======")
	assert.Contains(t, res.Content, "RIGHT")
	assert.Contains(t, res.Content, ">>>>>>> REMOTE")
	assert.NotEmpty(t, res.Conflicts)
}

func TestThreeWayInsertionsAtDistinctPointsMerge(t *testing.T) {
	base := "one\ntwo\nthree\n"
	left := "zero\none\ntwo\nthree\n"
	right := "one\ntwo\nthree\nfour\n"

	res := ThreeWay(base, left, right)
	assert.True(t, res.Success)
	assert.Equal(t, "zero\none\ntwo\nthree\nfour\n", res.Content)
}

func TestTwoWayDegradedConflictsOnOverlap(t *testing.T) {
	left := "hello from left\n"
	right := "hello from right\n"

	res := TwoWayDegraded(left, right)
	assert.False(t, res.Success)
	assert.Contains(t, res.Content, "LOCAL")
	assert.Contains(t, res.Content, "REMOTE")
}

func TestThreeWayIdenticalSides(t *testing.T) {
	res := ThreeWay("base\n", "same\n", "same\n")
	assert.True(t, res.Success)
	assert.Equal(t, "same\n", res.Content)
}
