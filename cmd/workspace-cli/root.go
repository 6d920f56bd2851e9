package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/instantpreview/instantpreview/internal/config"
	"github.com/instantpreview/instantpreview/internal/editor"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/preview"
	"github.com/instantpreview/instantpreview/internal/storage"
	"github.com/instantpreview/instantpreview/internal/workspace"
)

type options struct {
	backend    string
	root       string
	sqlitePath string
	workspace  string
	logLevel   string

	// openBackend is replaced in tests.
	openBackend func(ctx context.Context, o *options) (storage.Backend, error)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&options{openBackend: openBackend})
}

func newRootCmdWith(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "workspace-cli",
		Short:         "Inspect and edit a stored InstantPreview workspace",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(logging.Config{Level: o.logLevel, Format: "console", OutputPath: "stderr"})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.backend, "backend", "local", "Storage backend: local, sqlite or s3 (s3 reads S3_* from the environment)")
	pf.StringVar(&o.root, "root", "./data", "Root directory of the local backend")
	pf.StringVar(&o.sqlitePath, "sqlite", "./data/workspace.db", "Database file of the sqlite backend")
	pf.StringVarP(&o.workspace, "workspace", "w", "default", "Workspace name")
	pf.StringVar(&o.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newTreeCmd(o),
		newCatCmd(o),
		newAddCmd(o),
		newMkdirCmd(o),
		newRmCmd(o),
		newMvCmd(o),
		newWriteCmd(o),
		newSlotsCmd(o),
		newRenderCmd(o),
		newResetCmd(o),
		newExportCmd(o),
	)
	return root
}

// openBackend builds the backend the flags select, the same way the server does.
func openBackend(ctx context.Context, o *options) (storage.Backend, error) {
	cfg := &config.Config{
		StorageBackend:   o.backend,
		LocalStoragePath: o.root,
		SQLitePath:       o.sqlitePath,
	}
	if o.backend == "s3" {
		env, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg.S3Endpoint = env.S3Endpoint
		cfg.S3Bucket = env.S3Bucket
		cfg.S3AccessKey = env.S3AccessKey
		cfg.S3SecretKey = env.S3SecretKey
		cfg.S3Region = env.S3Region
		cfg.S3UseSSL = env.S3UseSSL
	}
	raw, err := json.Marshal(cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("encode storage config: %w", err)
	}
	return storage.NewBackendFromConfig(ctx, o.backend, raw)
}

// workspaceHandle bundles an open session with what has to be released.
type workspaceHandle struct {
	backend storage.Backend
	store   *workspace.Store
	session *editor.Session
}

func (o *options) open(ctx context.Context) (*workspaceHandle, error) {
	if o.workspace == "" {
		return nil, fmt.Errorf("--workspace must not be empty")
	}
	b, err := o.openBackend(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", o.backend, err)
	}
	store := workspace.NewStore(b, o.workspace)
	runner := preview.NewRunner(preview.NewMemorySurface())
	session, err := editor.New(ctx, store, runner, editor.Options{})
	if err != nil {
		b.Close()
		return nil, err
	}
	return &workspaceHandle{backend: b, store: store, session: session}, nil
}

func (h *workspaceHandle) close(ctx context.Context) error {
	err := h.session.Close(ctx)
	if cerr := h.backend.Close(); err == nil {
		err = cerr
	}
	return err
}

// withWorkspace opens the workspace, runs fn and closes it again.
func (o *options) withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, h *workspaceHandle) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := o.open(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, h); err != nil {
		h.close(ctx)
		return err
	}
	return h.close(ctx)
}
