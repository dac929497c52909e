package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/asrkit/spellout/pkg/feat"
)

func inspectCmd() *cli.Command {
	var (
		input        string
		showSections bool
		showMatrices bool
		showMeta     bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a feature container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to .fea file",
				Required:    true,
				Destination: &input,
			},
			&cli.BoolFlag{
				Name:        "sections",
				Usage:       "show the section directory only",
				Destination: &showSections,
			},
			&cli.BoolFlag{
				Name:        "matrices",
				Usage:       "show the matrix index only",
				Destination: &showMatrices,
			},
			&cli.BoolFlag{
				Name:        "meta",
				Usage:       "show the meta section only",
				Destination: &showMeta,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := feat.Open(input)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open %s: %v", input, err), 1)
			}
			defer func() { _ = f.Close() }()

			all := !showSections && !showMatrices && !showMeta
			if all {
				h := f.Header
				fmt.Printf("file:     %s\n", input)
				fmt.Printf("format:   FEA v%d.%d\n", h.Major, h.Minor)
				fmt.Printf("size:     %d bytes\n", h.FileSize)
				fmt.Printf("sections: %d\n", h.SectionCount)
				if h.Flags&feat.FlagMatrixDataAligned64 != 0 {
					fmt.Println("flags:    matrix data 64-byte aligned")
				}
				fmt.Println()
			}

			if all || showSections {
				fmt.Println("sections:")
				for _, s := range f.Sections {
					fmt.Printf("  %-14s offset=%-10d size=%d\n", sectionName(feat.SectionType(s.Type)), s.Offset, s.Size)
				}
				fmt.Println()
			}

			if all || showMatrices {
				fmt.Println("matrices:")
				for _, name := range f.Names() {
					e, _ := f.Entry(name)
					fmt.Printf("  %-24s %5d x %-5d %d bytes\n", e.Name, e.Rows, e.Cols, e.Size)
				}
				fmt.Println()
			}

			if all || showMeta {
				if s := f.Section(feat.SectionMeta); s != nil {
					fmt.Printf("meta: %s\n", f.SectionData(s))
				}
			}
			return nil
		},
	}
}

func sectionName(t feat.SectionType) string {
	switch t {
	case feat.SectionMeta:
		return "meta"
	case feat.SectionMatrixIndex:
		return "matrix-index"
	case feat.SectionMatrixData:
		return "matrix-data"
	default:
		return fmt.Sprintf("0x%04x", uint32(t))
	}
}
