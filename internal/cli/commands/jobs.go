package commands

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/darkace1998/video-pipeline/internal/cli/formatter"
)

// Jobs lists encoding jobs, oldest first
func Jobs(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	var c common
	c.register(fs)
	status := fs.String("status", "", "Filter by status: pending, encoding, completed, failed")
	limit := fs.Int("limit", 50, "Maximum number of jobs to display")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", *limit))
	if *status != "" {
		q.Set("status", *status)
	}

	result, err := c.client().call(http.MethodGet, "/api/admin/jobs?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	tbl := formatter.Table{Headers: []string{"Job", "Status", "Worker", "Attempts", "Created", "Error"}}
	for _, job := range getList(result, "jobs") {
		tbl.Rows = append(tbl.Rows, []string{
			getString(job, "owner") + "/" + getString(job, "permlink"),
			getString(job, "status"),
			orDash(getString(job, "assignedWorker")),
			fmt.Sprintf("%d", getInt(job, "attemptCount")),
			shortTime(getString(job, "createdAt")),
			formatter.Truncate(getString(job, "lastError"), 40),
		})
	}
	return c.output(w).Render(tbl, result)
}

// Retry requeues a failed job
func Retry(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	var c common
	c.register(fs)
	owner := fs.String("owner", "", "Job owner (required)")
	permlink := fs.String("permlink", "", "Job permlink (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *permlink == "" {
		return errors.New("--owner and --permlink are required")
	}

	result, err := c.client().call(http.MethodPost, "/api/admin/jobs/retry",
		map[string]string{"owner": *owner, "permlink": *permlink})
	if err != nil {
		return err
	}

	tbl := formatter.Table{
		Headers: []string{"Job", "Result"},
		Rows:    [][]string{{*owner + "/" + *permlink, getString(result, "status")}},
	}
	return c.output(w).Render(tbl, result)
}
