package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/issuepilot/internal/config"
	"github.com/user/issuepilot/internal/lifecycle"
	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/internal/watcher"
)

func init() {
	rootCmd.AddCommand(scopeCmd, fixCmd, statusCmd, watchCmd)

	for _, c := range []*cobra.Command{scopeCmd, fixCmd} {
		c.Flags().String("title", "", "issue title (fetched from GitHub when empty)")
		c.Flags().String("body", "", "issue body (fetched from GitHub when empty)")
	}
	watchCmd.Flags().Bool("once", false, "poll every active session once and exit")
}

// issueText returns the title and body flags, filling blanks from GitHub.
func issueText(ctx context.Context, cmd *cobra.Command, cfg *config.Config, owner, repo string, number int) (string, string) {
	title, _ := cmd.Flags().GetString("title")
	body, _ := cmd.Flags().GetString("body")
	if title != "" && body != "" {
		return title, body
	}
	issue, err := newGitHub(cfg).GetIssue(ctx, owner, repo, number)
	if err != nil {
		slog.Warn("fetch issue failed", "issue", types.NewIssueKey(owner, repo, number).String(), "error", err)
		return title, body
	}
	if title == "" {
		title = issue.Title
	}
	if body == "" {
		body = issue.BodyText()
	}
	return title, body
}

var scopeCmd = &cobra.Command{
	Use:   "scope <owner/repo> <number>",
	Short: "Start a scoping session for an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, number, err := parseIssueArgs(args)
		if err != nil {
			return err
		}
		cfg := loadConfig()
		setupLogging(cfg)
		machine, closeStore, err := newMachine(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := cmd.Context()
		title, body := issueText(ctx, cmd, cfg, owner, repo, number)
		if title == "" {
			return fmt.Errorf("issue title is required (pass --title or configure github access)")
		}
		res, err := machine.StartScoping(ctx, lifecycle.ScopeInput{
			Owner: owner, Repo: repo, Number: number, Title: title, Body: body,
		})
		if err != nil {
			return err
		}
		printStarted(res)
		return nil
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix <owner/repo> <number>",
	Short: "Start a fix session for a scoped issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, number, err := parseIssueArgs(args)
		if err != nil {
			return err
		}
		cfg := loadConfig()
		setupLogging(cfg)
		machine, closeStore, err := newMachine(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := cmd.Context()
		title, body := issueText(ctx, cmd, cfg, owner, repo, number)
		res, err := machine.StartFix(ctx, lifecycle.FixInput{
			Owner: owner, Repo: repo, Number: number, Title: title, Body: body,
		})
		if err != nil {
			return err
		}
		printStarted(res)
		return nil
	},
}

func printStarted(res *lifecycle.StartResult) {
	fmt.Fprintf(os.Stdout, "Session:        %s\n", res.Session.ID)
	fmt.Fprintf(os.Stdout, "Status:         %s\n", res.Session.Status)
	fmt.Fprintf(os.Stdout, "Devin session:  %s\n", res.RemoteSessionID)
	if res.RemoteSessionURL != "" {
		fmt.Fprintf(os.Stdout, "Devin URL:      %s\n", res.RemoteSessionURL)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Poll the remote run of a session and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		machine, closeStore, err := newMachine(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		res, err := machine.PollStatus(cmd.Context(), types.SessionID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Remote status:  %s (%s)\n", res.Remote.Status, displayEnum(string(res.Remote.StatusEnum)))
		if pr := res.Remote.PullRequestURL(); pr != "" {
			fmt.Fprintf(os.Stdout, "Pull request:   %s\n", pr)
		}
		return printSession(res.Session)
	},
}

func displayEnum(e string) string {
	if e == "" {
		return "unknown"
	}
	return e
}

// printSession writes the session as indented JSON.
func printSession(sess *types.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll active sessions until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		machine, closeStore, err := newMachine(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		interval, _ := cfg.PollEvery()
		w := watcher.New(machine.Store(), machine, buildNotifier(cfg), watcher.Options{
			Interval:      interval,
			MaxConcurrent: cfg.MaxConcurrentPolls,
			Logger:        slog.Default(),
		})

		if once, _ := cmd.Flags().GetBool("once"); once {
			summary, err := w.PollOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Polled %d, changed %d, failed %d.\n", summary.Polled, summary.Changed, summary.Failed)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		w.Stop()
		return nil
	},
}
