package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/ahmethakanbesel/histdata/internal/instrument"
)

func instrumentsCmd(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("instruments", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}

	all := instrument.Default().All()
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SYMBOL\tFIRST YEAR")
	for _, inst := range all {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", inst.Symbol, inst.FirstYear)
	}
	return tw.Flush()
}
