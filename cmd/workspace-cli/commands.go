package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/instantpreview/instantpreview/internal/editor"
	"github.com/instantpreview/instantpreview/internal/workspace"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/tree"
)

// resolve finds a node by name path ("Examples/example.py") or by id.
func resolve(s *editor.Session, ref string) (*models.FileNode, error) {
	if n, ok := tree.FindByPath(s.Tree(), ref); ok {
		return n, nil
	}
	return s.Node(ref)
}

// parentOf resolves the folder that should hold a new node at p.
func parentOf(s *editor.Session, p string) (string, string, error) {
	p = strings.Trim(p, "/")
	dir, name := path.Split(p)
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return "", name, nil
	}
	parent, err := resolve(s, dir)
	if err != nil {
		return "", "", err
	}
	return parent.ID, name, nil
}

func readInput(cmd *cobra.Command, from string) (string, error) {
	var (
		data []byte
		err  error
	)
	if from == "" || from == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(from)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func newTreeCmd(o *options) *cobra.Command {
	var showIDs bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the file tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				out := cmd.OutOrStdout()
				tree.Walk(h.session.Tree(), func(n *models.FileNode, depth int) bool {
					line := strings.Repeat("  ", depth) + n.Name
					if n.IsFolder() {
						line += "/"
					} else {
						line += "  [" + n.Language + "]"
					}
					if showIDs {
						line += "  " + n.ID
					}
					fmt.Fprintln(out, line)
					return true
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showIDs, "ids", false, "Show node ids")
	return cmd
}

func newCatCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				n, err := resolve(h.session, args[0])
				if err != nil {
					return err
				}
				if n.IsFolder() {
					return fmt.Errorf("%s: %w", args[0], tree.ErrNotFile)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), n.Content)
				return err
			})
		},
	}
}

func newAddCmd(o *options) *cobra.Command {
	var (
		language string
		from     string
		empty    bool
	)
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Create a file; content comes from --from, or the language template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				parentID, name, err := parentOf(h.session, args[0])
				if err != nil {
					return err
				}
				var content *string
				switch {
				case from != "":
					c, err := readInput(cmd, from)
					if err != nil {
						return err
					}
					content = &c
				case empty:
					c := ""
					content = &c
				}
				n, err := h.session.CreateFile(ctx, parentID, name, language, content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  %s\n", args[0], n.Language, n.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language tag (guessed from the extension when empty)")
	cmd.Flags().StringVar(&from, "from", "", "Read content from a file, or - for stdin")
	cmd.Flags().BoolVar(&empty, "empty", false, "Create the file without template content")
	return cmd
}

func newMkdirCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				parentID, name, err := parentOf(h.session, args[0])
				if err != nil {
					return err
				}
				n, err := h.session.CreateFolder(ctx, parentID, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/  %s\n", args[0], n.ID)
				return nil
			})
		},
	}
}

func newRmCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or a folder with everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				n, err := resolve(h.session, args[0])
				if err != nil {
					return err
				}
				return h.session.Delete(ctx, n.ID)
			})
		},
	}
}

func newMvCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <new-name>",
		Short: "Rename a node in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				n, err := resolve(h.session, args[0])
				if err != nil {
					return err
				}
				_, err = h.session.Rename(ctx, n.ID, args[1])
				return err
			})
		},
	}
}

func newWriteCmd(o *options) *cobra.Command {
	var (
		from string
		slot string
	)
	cmd := &cobra.Command{
		Use:   "write [path]",
		Short: "Replace the content of a file, or of a slot with --slot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (slot == "") == (len(args) == 0) {
				return fmt.Errorf("give either a file path or --slot")
			}
			content, err := readInput(cmd, from)
			if err != nil {
				return err
			}
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				if slot != "" {
					name, err := models.ParseSlot(slot)
					if err != nil {
						return err
					}
					return h.session.SetSlot(ctx, name, content)
				}
				n, err := resolve(h.session, args[0])
				if err != nil {
					return err
				}
				_, err = h.session.UpdateContent(ctx, n.ID, content)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "-", "Read content from a file, or - for stdin")
	cmd.Flags().StringVar(&slot, "slot", "", "Write a slot (html, css, js, script) instead of a file")
	return cmd
}

func newSlotsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "slots [name]",
		Short: "Print all slots, or the content of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				slots := h.session.Slots()
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					name, err := models.ParseSlot(args[0])
					if err != nil {
						return err
					}
					_, err = io.WriteString(out, slots.Get(name))
					return err
				}
				for _, name := range models.AllSlots() {
					fmt.Fprintf(out, "== %s (%d bytes)\n%s\n", name, len(slots.Get(name)), slots.Get(name))
				}
				return nil
			})
		},
	}
}

func newRenderCmd(o *options) *cobra.Command {
	var (
		output   string
		language string
	)
	cmd := &cobra.Command{
		Use:   "render [path]",
		Short: "Synthesize the preview document for the slots or for one file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				if len(args) == 1 {
					n, err := resolve(h.session, args[0])
					if err != nil {
						return err
					}
					if err := h.session.SelectFile(ctx, n.ID); err != nil {
						return err
					}
				} else if language != "" {
					if err := h.session.SetActiveLanguage(language); err != nil {
						return err
					}
				}
				res, err := h.session.Run(ctx)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = io.WriteString(cmd.OutOrStdout(), res.Document.HTML)
					return err
				}
				if err := os.WriteFile(output, []byte(res.Document.HTML), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s preview written to %s (%s)\n",
					res.Plan, output, res.Document.Fingerprint.Short())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the document to a file instead of stdout")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Active language for the slots (the script slot runs when it is not a web language)")
	return cmd
}

func newResetCmd(o *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored tree and slots; the next load starts from the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes workspace %q, pass --yes to confirm", o.workspace)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			b, err := o.openBackend(ctx, o)
			if err != nil {
				return err
			}
			defer b.Close()
			return workspace.NewStore(b, o.workspace).Reset(ctx)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

// exportDoc is the document written by export.
type exportDoc struct {
	Workspace string             `json:"workspace"`
	Files     []*models.FileNode `json:"files"`
	Slots     models.Slots       `json:"slots"`
}

func newExportCmd(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the tree and slots as one JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWorkspace(cmd, func(ctx context.Context, h *workspaceHandle) error {
				nodes, slots := h.session.Snapshot()
				data, err := json.MarshalIndent(exportDoc{Workspace: o.workspace, Files: nodes, Slots: slots}, "", "  ")
				if err != nil {
					return fmt.Errorf("encode export: %w", err)
				}
				data = append(data, '\n')
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}
