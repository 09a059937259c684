package commands

import (
	"errors"
	"flag"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/darkace1998/video-pipeline/internal/cli/formatter"
)

// Encoders lists encoders, or enables or disables one with --enable/--disable
func Encoders(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("encoders", flag.ContinueOnError)
	var c common
	c.register(fs)
	enable := fs.String("enable", "", "Encoder name to enable")
	disable := fs.String("disable", "", "Encoder name to disable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *enable != "" && *disable != "" {
		return errors.New("--enable and --disable are mutually exclusive")
	}

	client := c.client()
	name, action := *enable, "enable"
	if *disable != "" {
		name, action = *disable, "disable"
	}
	if name != "" {
		result, err := client.call(http.MethodPost, "/api/admin/encoders/"+url.PathEscape(name)+"/"+action, nil)
		if err != nil {
			return err
		}
		tbl := formatter.Table{
			Headers: []string{"Name", "Enabled"},
			Rows:    [][]string{{getString(result, "name"), strconv.FormatBool(getBool(result, "enabled"))}},
		}
		return c.output(w).Render(tbl, result)
	}

	result, err := client.call(http.MethodGet, "/api/admin/encoders", nil)
	if err != nil {
		return err
	}
	tbl := formatter.Table{Headers: []string{"Name", "URL", "Enabled"}}
	for _, enc := range getList(result, "encoders") {
		tbl.Rows = append(tbl.Rows, []string{
			getString(enc, "name"),
			getString(enc, "url"),
			strconv.FormatBool(getBool(enc, "enabled")),
		})
	}
	return c.output(w).Render(tbl, result)
}
