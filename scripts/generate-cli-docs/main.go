// Package main writes a single markdown reference of the syncrelay commands.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/enflame-media/syncrelay/cmd/syncrelay/cmd"
	"github.com/enflame-media/syncrelay/internal/constants"
)

func main() {
	var outFile string
	flag.StringVar(&outFile, "out", "./docs/CLI.md", "output file for generated markdown")
	flag.Parse()

	if err := writeFile(outFile); err != nil {
		log.Fatalf("error: %s", err)
	}
	log.Printf("generated command reference in %s", outFile)
}

func writeFile(outFile string) error {
	if outFile == "" {
		return fmt.Errorf("output file is required")
	}
	if err := os.MkdirAll(filepath.Dir(outFile), constants.ConfigDirPermissions); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	var buf bytes.Buffer
	root := cmd.RootCmd()
	root.DisableAutoGenTag = true

	fmt.Fprintf(&buf, "# %s command reference\n\n", constants.ProjectName)
	if err := writeCommand(&buf, root, 2); err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(outFile), buf.Bytes(), constants.ConfigFilePermissions)
}

func writeCommand(w io.Writer, c *cobra.Command, level int) error {
	if !c.IsAvailableCommand() || c.IsAdditionalHelpTopicCommand() {
		return nil
	}

	fmt.Fprintf(w, "%s %s\n\n", strings.Repeat("#", min(level, 6)), c.CommandPath())
	if c.Short != "" {
		fmt.Fprintf(w, "%s\n\n", c.Short)
	}
	if c.Long != "" && c.Long != c.Short {
		fmt.Fprintf(w, "%s\n\n", c.Long)
	}
	if c.Example != "" {
		fmt.Fprintf(w, "**Examples:**\n\n```bash\n%s\n```\n\n", c.Example)
	}

	var generated bytes.Buffer
	if err := doc.GenMarkdown(c, &generated); err != nil {
		return fmt.Errorf("generating markdown for %s: %w", c.CommandPath(), err)
	}
	if options := optionsSection(generated.String()); options != "" {
		fmt.Fprintf(w, "%s\n\n", options)
	}

	children := c.Commands()
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
	for _, child := range children {
		if err := writeCommand(w, child, level+1); err != nil {
			return err
		}
	}
	return nil
}

// optionsSection returns the "### Options" block of cobra's markdown.
func optionsSection(markdown string) string {
	start := strings.Index(markdown, "### Options")
	if start < 0 {
		return ""
	}
	section := markdown[start:]
	if end := strings.Index(section, "\n### "); end > 0 {
		section = section[:end]
	}
	return strings.TrimSpace(section)
}
