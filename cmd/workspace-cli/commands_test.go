package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instantpreview/instantpreview/internal/storage"
	"github.com/instantpreview/instantpreview/internal/storage/local"
)

type cli struct {
	fs afero.Fs
}

func newCLI() *cli {
	return &cli{fs: afero.NewMemMapFs()}
}

func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	o := &options{openBackend: func(ctx context.Context, o *options) (storage.Backend, error) {
		return local.NewWithFs(c.fs, local.Config{RootPath: "/data", CreateDirs: true})
	}}
	cmd := newRootCmdWith(o)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := c.run(t, stdin, args...)
	require.NoError(t, err, "workspace-cli %v", args)
	return out
}

func TestTreeShowsDefaults(t *testing.T) {
	c := newCLI()
	out := c.mustRun(t, "", "tree")
	assert.Contains(t, out, "index.html  [html]")
	assert.Contains(t, out, "Examples/")
	assert.Contains(t, out, "  example.py  [python]")
}

func TestAddCatAndWrite(t *testing.T) {
	c := newCLI()
	c.mustRun(t, "print(1)\n", "add", "Examples/main.py", "--from", "-")
	assert.Equal(t, "print(1)\n", c.mustRun(t, "", "cat", "Examples/main.py"))
	assert.Contains(t, c.mustRun(t, "", "tree"), "  main.py  [python]")

	c.mustRun(t, "print(2)\n", "write", "Examples/main.py")
	assert.Equal(t, "print(2)\n", c.mustRun(t, "", "cat", "Examples/main.py"))

	out := c.mustRun(t, "", "add", "notes.txt", "--empty")
	assert.Contains(t, out, "[text]")
	assert.Equal(t, "", c.mustRun(t, "", "cat", "notes.txt"))
}

func TestMkdirMoveRemove(t *testing.T) {
	c := newCLI()
	c.mustRun(t, "", "mkdir", "assets")
	c.mustRun(t, "", "add", "assets/site.css", "--empty")
	c.mustRun(t, "", "mv", "assets", "static")

	out := c.mustRun(t, "", "tree")
	assert.Contains(t, out, "static/")
	assert.Contains(t, out, "  site.css  [css]")
	assert.NotContains(t, out, "assets/")

	c.mustRun(t, "", "rm", "static")
	out = c.mustRun(t, "", "tree")
	assert.NotContains(t, out, "static/")
	assert.NotContains(t, out, "site.css")
}

func TestErrors(t *testing.T) {
	c := newCLI()
	_, err := c.run(t, "", "cat", "missing.txt")
	assert.Error(t, err)

	_, err = c.run(t, "", "cat", "Examples")
	assert.Error(t, err)

	_, err = c.run(t, "", "mkdir", "index.html/sub")
	assert.Error(t, err)

	_, err = c.run(t, "x", "write")
	assert.Error(t, err)

	_, err = c.run(t, "print('\xff')", "write", "Examples/example.py")
	assert.Error(t, err)
	assert.NotContains(t, c.mustRun(t, "", "cat", "Examples/example.py"), "\xff")

	_, err = c.run(t, "", "slots", "sass")
	assert.Error(t, err)
}

func TestSlots(t *testing.T) {
	c := newCLI()
	c.mustRun(t, "body { color: red }", "write", "--slot", "css")
	assert.Equal(t, "body { color: red }", c.mustRun(t, "", "slots", "css"))

	all := c.mustRun(t, "", "slots")
	assert.Contains(t, all, "== html")
	assert.Contains(t, all, "== script (0 bytes)")
}

func TestRender(t *testing.T) {
	c := newCLI()
	c.mustRun(t, "p { margin: 0 }", "write", "--slot", "css")
	out := c.mustRun(t, "", "render")
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "p { margin: 0 }")

	out = c.mustRun(t, "", "render", "Examples/example.py")
	assert.Contains(t, out, "Python virtual machine")
}

func TestResetAndExport(t *testing.T) {
	c := newCLI()
	c.mustRun(t, "", "mkdir", "scratch")

	_, err := c.run(t, "", "reset")
	assert.Error(t, err)
	assert.Contains(t, c.mustRun(t, "", "tree"), "scratch/")

	c.mustRun(t, "", "reset", "--yes")
	assert.NotContains(t, c.mustRun(t, "", "tree"), "scratch/")

	var doc exportDoc
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(t, "", "export")), &doc))
	assert.Equal(t, "default", doc.Workspace)
	assert.Len(t, doc.Files, 4)
	assert.NotEmpty(t, doc.Slots.HTML)
}
