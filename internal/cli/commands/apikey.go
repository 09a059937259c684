package commands

import (
	"errors"
	"flag"
	"io"
	"net/http"

	"github.com/darkace1998/video-pipeline/internal/cli/formatter"
)

// APIKey mints a frontend API key
func APIKey(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("apikey", flag.ContinueOnError)
	var c common
	c.register(fs)
	app := fs.String("app", "", "Frontend app name (required)")
	owner := fs.String("owner", "", "Default owner for uploads with this key (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *app == "" || *owner == "" {
		return errors.New("--app and --owner are required")
	}

	result, err := c.client().call(http.MethodPost, "/api/admin/apikeys",
		map[string]string{"app_name": *app, "owner": *owner})
	if err != nil {
		return err
	}

	tbl := formatter.Table{
		Headers: []string{"Key", "App", "Owner"},
		Rows:    [][]string{{getString(result, "key"), getString(result, "app_name"), getString(result, "owner")}},
	}
	return c.output(w).Render(tbl, result)
}
