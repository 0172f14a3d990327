package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validConfig = `
sources:
  blog:
    family: article
    git:
      repo: https://github.com/org/blog.git
      reference: main
secrets:
  hook:
    type: webhook
    secret: s3cret
`

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0644))

	var out bytes.Buffer
	RootCommand.SetOut(&out)
	RootCommand.SetErr(&out)
	RootCommand.SetArgs([]string{"validate", path})

	require.NoError(t, RootCommand.Execute())
	require.Contains(t, out.String(), "configuration is valid")
}

func TestValidateCommandRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	bad := validConfig + "\nservice:\n  bogus_field: true\n"
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	RootCommand.SetOut(&bytes.Buffer{})
	RootCommand.SetErr(&bytes.Buffer{})
	RootCommand.SetArgs([]string{"validate", path})

	require.Error(t, RootCommand.Execute())
}
