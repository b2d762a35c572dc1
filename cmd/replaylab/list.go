package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/dusk-indust/replaylab/internal/conversation"
)

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	project := fs.String("project", "", "only show projects whose path contains this")
	limit := fs.Int("limit", 20, "maximum conversations to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	convs, err := a.archive().List(ctx, conversation.ListOptions{ProjectFilter: *project, Limit: *limit})
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(stdout, "No conversations found.")
		return nil
	}

	fmt.Fprintf(stdout, "%-15s  %-40s  %8s  %s\n", "SESSION", "PROJECT", "MESSAGES", "MODIFIED")
	for _, c := range convs {
		fmt.Fprintf(stdout, "%-15s  %-40s  %8d  %s\n",
			shortID(c.SessionID), displayProject(c.ProjectPath), c.MessageCount,
			c.Modified.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(stdout, "\nShowing %d conversations\n", len(convs))
	return nil
}

// shortID keeps the first 12 characters of a session ID.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}

// displayProject turns an archive directory name like "-home-dev-app" back
// into a path and keeps its last 40 characters.
func displayProject(p string) string {
	if strings.HasPrefix(p, "-") {
		p = strings.ReplaceAll(p[1:], "-", "/")
	}
	if len(p) > 40 {
		p = "..." + p[len(p)-37:]
	}
	return p
}
