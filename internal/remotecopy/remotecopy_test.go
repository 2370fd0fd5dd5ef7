package remotecopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsPrompt(t *testing.T) {
	assert.True(t, containsPrompt("Password: "))
	assert.True(t, containsPrompt("Enter passphrase for key '/home/x/.ssh/id_rsa': "))
	assert.False(t, containsPrompt("scp: /tmp/foo: No such file or directory"))
}

func TestOptionsCopyCommandDefault(t *testing.T) {
	assert.Equal(t, "scp", Options{}.copyCommand())
	assert.Equal(t, "rsync", Options{CopyCommand: "rsync"}.copyCommand())
}

func TestErrorMessages(t *testing.T) {
	e := &Error{Op: "push", Host: "h1", Stderr: "permission denied"}
	assert.Contains(t, e.Error(), "push")
	assert.Contains(t, e.Error(), "h1")
	assert.Contains(t, e.Error(), "permission denied")
}
