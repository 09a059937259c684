package commands

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/darkace1998/video-pipeline/internal/cli/formatter"
	"github.com/darkace1998/video-pipeline/internal/config"
)

// Validate loads a master config file and reports every validation error
func Validate(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	file := fs.String("file", "config.yaml", "Path to config file")
	format := fs.String("format", "table", "Output format: table, json, csv")
	if err := fs.Parse(args); err != nil {
		return err
	}

	out := formatter.New(w, formatter.ParseFormat(*format))
	_, err := config.LoadMasterConfig(*file)

	var verrs *config.ValidationErrors
	switch {
	case err == nil:
		_, werr := fmt.Fprintf(w, "%s is valid\n", *file)
		return werr
	case errors.As(err, &verrs):
		tbl := formatter.Table{Headers: []string{"Field", "Problem"}}
		for _, e := range verrs.Errors {
			tbl.Rows = append(tbl.Rows, []string{e.Field, e.Message})
		}
		if rerr := out.Render(tbl, verrs); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%s has %d problem(s)", *file, len(verrs.Errors))
	default:
		return err
	}
}
