package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/issuepilot/internal/github"
)

func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.AddCommand(issueListCmd, issueShowCmd, issueCommentCmd, issueCreateCmd)

	issueListCmd.Flags().String("state", "open", "issue state: open, closed or all")
	issueListCmd.Flags().StringSlice("label", nil, "only issues with these labels")
	issueListCmd.Flags().String("assignee", "", "only issues assigned to this user")
	issueShowCmd.Flags().Bool("comments", false, "include comments")
	issueShowCmd.Flags().Bool("events", false, "include the issue timeline")
	issueCreateCmd.Flags().String("title", "", "issue title (required)")
	issueCreateCmd.Flags().String("body", "", "issue body")
	issueCreateCmd.Flags().StringSlice("label", nil, "labels to apply")
	_ = issueCreateCmd.MarkFlagRequired("title")
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Browse GitHub issues",
}

var issueListCmd = &cobra.Command{
	Use:   "list <owner/repo>",
	Short: "List issues of a repository, with their session status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		setupLogging(cfg)
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		opts := github.ListIssuesOptions{Sort: "updated", Direction: "desc"}
		opts.State, _ = cmd.Flags().GetString("state")
		opts.Labels, _ = cmd.Flags().GetStringSlice("label")
		opts.Assignee, _ = cmd.Flags().GetString("assignee")

		ctx := cmd.Context()
		gh := newGitHub(cfg)
		repository, err := gh.GetRepository(ctx, owner, repo)
		if err != nil {
			return fmt.Errorf("get repository: %w", err)
		}
		fmt.Fprintf(os.Stdout, "%s (%d open issues and pull requests)\n\n", repository.FullName, repository.OpenIssuesCount)

		issues, err := gh.ListIssues(ctx, owner, repo, opts)
		if err != nil {
			return fmt.Errorf("list issues: %w", err)
		}
		if len(issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NUMBER\tSTATE\tSESSION\tLABELS\tTITLE")
		for _, issue := range issues {
			status := "-"
			if sess, err := store.FindByIssue(ctx, owner, repo, issue.Number); err == nil && sess != nil {
				status = string(sess.Status)
			}
			labels := make([]string, 0, len(issue.Labels))
			for _, l := range issue.Labels {
				labels = append(labels, l.Name)
			}
			fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n", issue.Number, issue.State, status, strings.Join(labels, ","), issue.Title)
		}
		return w.Flush()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <owner/repo> <number>",
	Short: "Show an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, number, err := parseIssueArgs(args)
		if err != nil {
			return err
		}
		cfg := loadConfig()
		setupLogging(cfg)
		gh := newGitHub(cfg)

		ctx := cmd.Context()
		issue, err := gh.GetIssue(ctx, owner, repo, number)
		if err != nil {
			return fmt.Errorf("get issue: %w", err)
		}
		fmt.Fprintf(os.Stdout, "%s/%s#%d %s\n", owner, repo, issue.Number, issue.Title)
		fmt.Fprintf(os.Stdout, "State: %s  Author: %s  Comments: %d\n", issue.State, issue.User.Login, issue.Comments)
		fmt.Fprintf(os.Stdout, "URL: %s\n\n", issue.HTMLURL)
		if body := issue.BodyText(); body != "" {
			fmt.Fprintln(os.Stdout, body)
		} else {
			fmt.Fprintln(os.Stdout, "(no description)")
		}

		if withComments, _ := cmd.Flags().GetBool("comments"); withComments && issue.Comments > 0 {
			comments, err := gh.ListComments(ctx, owner, repo, number)
			if err != nil {
				return fmt.Errorf("list comments: %w", err)
			}
			for _, c := range comments {
				fmt.Fprintf(os.Stdout, "\n--- %s at %s\n%s\n", c.User.Login, c.CreatedAt.Format("2006-01-02 15:04"), c.Body)
			}
		}

		if withEvents, _ := cmd.Flags().GetBool("events"); withEvents {
			events, err := gh.ListEvents(ctx, owner, repo, number)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			fmt.Fprintln(os.Stdout)
			for _, e := range events {
				fmt.Fprintf(os.Stdout, "%s  %-12s %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Event, e.Actor.Login)
			}
		}
		return nil
	},
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <owner/repo> <number>",
	Short: "Post the stored scoping and fix results as an issue comment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, number, err := parseIssueArgs(args)
		if err != nil {
			return err
		}
		cfg := loadConfig()
		setupLogging(cfg)
		if cfg.GitHub.Token == "" {
			return fmt.Errorf("github.token is required to comment")
		}
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := cmd.Context()
		sess, err := store.FindByIssue(ctx, owner, repo, number)
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		if sess == nil || sess.ScopingResult == nil {
			return fmt.Errorf("no scoping result for %s/%s#%d", owner, repo, number)
		}
		body, err := resultComment(sess)
		if err != nil {
			return err
		}
		comment, err := newGitHub(cfg).AddComment(ctx, owner, repo, number, body)
		if err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Comment posted: %s\n", comment.HTMLURL)
		return nil
	},
}

var issueCreateCmd = &cobra.Command{
	Use:   "create <owner/repo>",
	Short: "Open a new issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		setupLogging(cfg)

		var req github.CreateIssueRequest
		req.Title, _ = cmd.Flags().GetString("title")
		req.Body, _ = cmd.Flags().GetString("body")
		req.Labels, _ = cmd.Flags().GetStringSlice("label")
		issue, err := newGitHub(cfg).CreateIssue(cmd.Context(), owner, repo, req)
		if err != nil {
			return fmt.Errorf("create issue: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Created #%d: %s\n", issue.Number, issue.HTMLURL)
		return nil
	},
}
