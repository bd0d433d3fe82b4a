package command

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/client/canvas"
)

// Exit code used when a push is refused as stale.
const exitConflict = 2

// CanvasCommand groups the document commands.
func CanvasCommand() *cli.Command {
	return &cli.Command{
		Name:    "canvas",
		Aliases: []string{"doc"},
		Usage:   "Manage canvas documents",
		Subcommands: []*cli.Command{
			canvasListCommand(),
			canvasGetCommand(),
			canvasCreateCommand(),
			canvasPullCommand(),
			canvasPushCommand(),
			canvasDeleteCommand(),
		},
	}
}

func canvasListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List your documents",
		Action: func(c *cli.Context) error {
			rt, err := requireSession(c)
			if err != nil {
				return err
			}
			list, err := rt.Client.ListDocuments(ctx(c), rt.Session)
			if err != nil {
				return err
			}
			return printJSON(c, list)
		},
	}
}

func canvasGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print a document (the default canvas when no id is given)",
		ArgsUsage: "[id]",
		Action: func(c *cli.Context) error {
			rt, err := requireSession(c)
			if err != nil {
				return err
			}
			var doc *dto.Document
			if id := c.Args().First(); id != "" {
				doc, err = rt.Client.GetDocument(ctx(c), rt.Session, id)
			} else {
				doc, err = rt.Client.GetUniverse(ctx(c), rt.Session)
			}
			if err != nil {
				return err
			}
			return printJSON(c, doc)
		},
	}
}

func canvasCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a document seeded with the core node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Document name"},
		},
		Action: func(c *cli.Context) error {
			rt, err := requireSession(c)
			if err != nil {
				return err
			}
			var req dto.CreateDocumentRequest
			if c.IsSet("name") {
				name := c.String("name")
				req.Name = &name
			}
			doc, err := rt.Client.CreateDocument(ctx(c), rt.Session, req)
			if err != nil {
				return err
			}
			return printJSON(c, doc)
		},
	}
}

func canvasPullCommand() *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "Write the server copy of a document to a working file",
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{fileFlag()},
		Action: func(c *cli.Context) error {
			rt, err := requireSession(c)
			if err != nil {
				return err
			}
			id := c.Args().First()
			if id == "" {
				return cli.Exit("document id required", 1)
			}
			wc, err := canvas.NewSyncer(rt.Client, rt.Session, rt.Logger).Pull(ctx(c), id)
			if err != nil {
				return err
			}
			return writeWorkingFile(c.String("file"), wc)
		},
	}
}

func canvasPushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "Save a working file to the server",
		Flags: []cli.Flag{
			fileFlag(),
			&cli.StringFlag{
				Name:  "on-conflict",
				Usage: "What to do when the server copy is newer: fail, server, overwrite",
				Value: "fail",
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := requireSession(c)
			if err != nil {
				return err
			}
			path := c.String("file")
			wc, err := readWorkingFile(path)
			if err != nil {
				return err
			}

			syncer := canvas.NewSyncer(rt.Client, rt.Session, rt.Logger)
			out, err := syncer.Push(ctx(c), &wc)
			if err != nil {
				return err
			}
			if out.Status == canvas.Conflict {
				switch c.String("on-conflict") {
				case "server":
					out, err = syncer.Resolve(ctx(c), &wc, out, canvas.KeepServer)
				case "overwrite":
					out, err = syncer.Resolve(ctx(c), &wc, out, canvas.Overwrite)
				case "fail":
				default:
					return cli.Exit(fmt.Sprintf("unknown conflict strategy %q", c.String("on-conflict")), 1)
				}
				if err != nil {
					return err
				}
			}
			if out.Status == canvas.Conflict {
				_ = printJSON(c, dto.ConflictResponse{Conflict: true, Document: out.Authoritative})
				return cli.Exit("server copy is newer; pull or rerun with --on-conflict", exitConflict)
			}
			if err := writeWorkingFile(path, wc); err != nil {
				return err
			}
			return printJSON(c, out.Authoritative)
		},
	}
}

func canvasDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a document",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			rt, err := requireSession(c)
			if err != nil {
				return err
			}
			id := c.Args().First()
			if id == "" {
				return cli.Exit("document id required", 1)
			}
			if err := rt.Client.DeleteDocument(ctx(c), rt.Session, id); err != nil {
				return err
			}
			return printJSON(c, dto.SuccessResponse{Success: true})
		},
	}
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Working file path",
		Required: true,
	}
}

// workingFile is the on-disk form of a working copy.
type workingFile struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Nodes     []json.RawMessage `json:"nodes"`
	Edges     []json.RawMessage `json:"edges,omitempty"`
	UpdatedAt *int64            `json:"updatedAt,omitempty"`
}

func readWorkingFile(path string) (canvas.WorkingCopy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return canvas.WorkingCopy{}, fmt.Errorf("read working file: %w", err)
	}
	var f workingFile
	if err := json.Unmarshal(data, &f); err != nil {
		return canvas.WorkingCopy{}, fmt.Errorf("parse working file: %w", err)
	}
	if f.ID == "" {
		return canvas.WorkingCopy{}, fmt.Errorf("working file %s has no id", path)
	}
	return canvas.WorkingCopy{ID: f.ID, Name: f.Name, Nodes: f.Nodes, Edges: f.Edges, UpdatedAt: f.UpdatedAt}, nil
}

func writeWorkingFile(path string, wc canvas.WorkingCopy) error {
	data, err := json.MarshalIndent(workingFile{
		ID:        wc.ID,
		Name:      wc.Name,
		Nodes:     wc.Nodes,
		Edges:     wc.Edges,
		UpdatedAt: wc.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode working file: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
