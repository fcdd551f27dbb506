package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/mbracero/fresco/internal/diagram"
)

func diagramCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagram",
		Usage:     "Render a workflow graph as a diagram",
		ArgsUsage: "<graph.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format (mermaid, ascii, png)",
				Value: "mermaid",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Write to a file instead of stdout (required for png)",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Diagram title",
			},
		},
		Action: renderDiagram,
	}
}

func renderDiagram(_ context.Context, command *cli.Command) error {
	graph, err := readGraph(command)
	if err != nil {
		return err
	}

	title := command.String("title")
	if title == "" {
		if path := command.Args().First(); path != "" {
			title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}

	model, err := diagram.Build(graph, title, nil)
	if err != nil {
		return err
	}

	var out []byte
	switch format := command.String("format"); format {
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "png":
		out, err = diagram.RenderImage(model)
		if err != nil {
			return err
		}
		if command.String("output") == "" {
			return fmt.Errorf("png format requires --output")
		}
	default:
		return fmt.Errorf("unknown format %q (want mermaid, ascii, or png)", format)
	}

	if path := command.String("output"); path != "" {
		return os.WriteFile(path, out, 0o644)
	}
	fmt.Print(string(out))
	return nil
}
