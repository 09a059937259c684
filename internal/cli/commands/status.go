package commands

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/darkace1998/video-pipeline/internal/cli/formatter"
)

// Stats prints job counts by status and the enabled encoders
func Stats(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := c.client().call(http.MethodGet, "/api/admin/stats", nil)
	if err != nil {
		return err
	}

	jobs, _ := result["jobs"].(map[string]any)
	statuses := make([]string, 0, len(jobs))
	for s := range jobs {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	tbl := formatter.Table{Headers: []string{"Status", "Jobs"}}
	total := 0
	for _, s := range statuses {
		n := getInt(jobs, s)
		total += n
		tbl.Rows = append(tbl.Rows, []string{s, fmt.Sprintf("%d", n)})
	}
	tbl.Rows = append(tbl.Rows, []string{"total", fmt.Sprintf("%d", total)})

	if err := c.output(w).Render(tbl, result); err != nil {
		return err
	}
	if formatter.ParseFormat(c.format) == formatter.FormatTable {
		enabled, _ := result["enabled_encoders"].([]any)
		names := make([]string, 0, len(enabled))
		for _, e := range enabled {
			names = append(names, fmt.Sprint(e))
		}
		_, _ = fmt.Fprintf(w, "\nEnabled encoders: %s\n", orDash(strings.Join(names, ", ")))
	}
	return nil
}

// Status reports liveness and readiness of the master
func Status(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := c.client()
	tbl := formatter.Table{Headers: []string{"Endpoint", "Status"}}
	raw := map[string]any{}
	for _, endpoint := range []string{"/healthz", "/readyz"} {
		status := "unreachable"
		if result, err := client.call(http.MethodGet, endpoint, nil); err == nil {
			status = getString(result, "status")
		} else if strings.Contains(err.Error(), "returned 503") {
			status = "not_ready"
		}
		raw[strings.TrimPrefix(endpoint, "/")] = status
		tbl.Rows = append(tbl.Rows, []string{endpoint, status})
	}
	return c.output(w).Render(tbl, raw)
}
