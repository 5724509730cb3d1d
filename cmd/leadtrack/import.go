package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"leadtrack-engine/internal/ingest"
	"leadtrack-engine/internal/workspace"
)

var (
	importFormat     string
	importPreset     string
	importMap        []string
	importSavePreset string
	importTable      int
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import leads from a CSV, JSON or HTML table export",
	Long: `Imports a lead file. Rows merge into existing leads by the configured
natural key (email by default); every resulting field change is recorded.

The column mapping comes from --map, then --preset, then the mapping used for
the previous import when its columns are all present, then a guess from the
headers.

Example:
  leadtrack import leads.csv --map email="E-mail Address" --map status=Stage --save-preset crm`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFormat, "format", "", "csv, json or html (default from the file extension)")
	importCmd.Flags().StringVar(&importPreset, "preset", "", "named column mapping")
	importCmd.Flags().StringArrayVar(&importMap, "map", nil, "field=column mapping entry (repeatable)")
	importCmd.Flags().StringVar(&importSavePreset, "save-preset", "", "store the mapping used under this name")
	importCmd.Flags().IntVar(&importTable, "table", 0, "table index for HTML files")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	var (
		f   ingest.Format
		err error
	)
	if importFormat != "" {
		f, err = ingest.ParseFormat(importFormat)
	} else {
		f, err = ingest.FormatFromName(path)
	}
	if err != nil {
		return err
	}

	explicit := make(map[string]string, len(importMap))
	for _, kv := range importMap {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--map %q: want field=column", kv)
		}
		explicit[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var tbl ingest.Table
	if f == ingest.FormatHTML {
		tbl, err = ingest.ReadHTMLTable(file, importTable)
	} else {
		tbl, err = ingest.Read(file, f)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
		mapping, err := ws.ResolveMapping(importPreset, explicit, tbl.Columns)
		if err != nil {
			return err
		}
		rep, err := ws.Import(cmd.Context(), tbl, mapping)
		if err != nil {
			return err
		}
		if importSavePreset != "" {
			if err := ws.SavePreset(cmd.Context(), importSavePreset, mapping); err != nil {
				return err
			}
		}
		if jsonOut {
			return printJSON(rep)
		}
		printReport(rep)
		return nil
	})
}

func printReport(rep workspace.ImportReport) {
	fmt.Printf("rows %d: %d created, %d updated, %d unchanged, %d skipped (%d changes recorded)\n",
		rep.Rows, rep.Created, rep.Updated, rep.Unchanged, len(rep.Skipped), rep.Events)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, f := range slices.Sorted(maps.Keys(rep.Mapping)) {
		fmt.Fprintf(tw, "  %s\t<- %q\n", f, rep.Mapping[f])
	}
	_ = tw.Flush()
	for _, s := range rep.Skipped {
		fmt.Printf("  skipped row %d: %s\n", s.Row+1, s.Reason)
	}
	for _, w := range rep.Warnings {
		fmt.Printf("  row %d %s %q: %s\n", w.Row+1, w.Field, w.Value, w.Reason)
	}
}
