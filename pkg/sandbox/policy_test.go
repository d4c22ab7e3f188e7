package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandPolicy_Check(t *testing.T) {
	t.Run("should allow a listed command", func(t *testing.T) {
		p := NewCommandPolicy([]string{"ls", "cat"}, nil)
		assert.NoError(t, p.Check("ls -la /tmp"))
	})

	t.Run("should reject a command not on the allow list", func(t *testing.T) {
		p := NewCommandPolicy([]string{"ls"}, nil)
		err := p.Check("curl https://example.com")
		assert.ErrorIs(t, err, ErrCommandNotAllowed)
	})

	t.Run("should deny a listed command", func(t *testing.T) {
		p := NewCommandPolicy(nil, []string{"rm"})
		err := p.Check("rm -rf /")
		assert.ErrorIs(t, err, ErrCommandDenied)
	})

	t.Run("should let deny win over allow", func(t *testing.T) {
		p := NewCommandPolicy([]string{"rm"}, []string{"rm"})
		err := p.Check("rm file.txt")
		assert.ErrorIs(t, err, ErrCommandDenied)
	})

	t.Run("should allow anything with an empty allow list", func(t *testing.T) {
		p := NewCommandPolicy(nil, []string{"shutdown"})
		assert.NoError(t, p.Check("python script.py"))
	})

	t.Run("should apply updated pattern lists", func(t *testing.T) {
		p := NewCommandPolicy([]string{"ls"}, nil)
		assert.NoError(t, p.Check("ls"))

		p.Update([]string{"cat"}, []string{"ls"})
		assert.ErrorIs(t, p.Check("ls"), ErrCommandDenied)
		assert.NoError(t, p.Check("cat notes.txt"))
	})

	t.Run("should match the base name of an absolute program path", func(t *testing.T) {
		p := NewCommandPolicy(nil, []string{"rm"})
		err := p.Check("/bin/rm -rf /tmp/x")
		assert.ErrorIs(t, err, ErrCommandDenied)
	})

	t.Run("should match a program plus subcommand pattern", func(t *testing.T) {
		p := NewCommandPolicy([]string{"git status", "git log"}, nil)
		assert.NoError(t, p.Check("git status --short"))
		assert.ErrorIs(t, p.Check("git push origin main"), ErrCommandNotAllowed)
	})

	t.Run("should support glob patterns", func(t *testing.T) {
		p := NewCommandPolicy(nil, []string{"mkfs*"})
		assert.ErrorIs(t, p.Check("mkfs.ext4 /dev/sda1"), ErrCommandDenied)
	})

	t.Run("should reject an empty command line", func(t *testing.T) {
		p := NewCommandPolicy(nil, nil)
		assert.ErrorIs(t, p.Check("   "), ErrEmptyCommand)
	})
}
