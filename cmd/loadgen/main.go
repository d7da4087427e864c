// cmd/loadgen drives simulated operators against a running server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/unclebandit/reminder-mailer/internal/loadgen"
	"github.com/unclebandit/reminder-mailer/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadgen.DefaultConfig()
	var verbose bool

	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Replay login, submit and page-load traffic with virtual users",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := "production"
			if verbose {
				env = "development"
			}
			runner, err := loadgen.New(cfg, logger.New(env))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("Running %d users against %s for %s\n", cfg.Users, cfg.BaseURL, cfg.Duration)
			printSummary(cmd, runner.Run(ctx))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.BaseURL, "url", "u", cfg.BaseURL, "base URL of the server")
	f.IntVarP(&cfg.Users, "users", "n", cfg.Users, "number of virtual users")
	f.DurationVarP(&cfg.Duration, "duration", "d", cfg.Duration, "how long to run")
	f.DurationVar(&cfg.MinWait, "min-wait", cfg.MinWait, "minimum wait between tasks")
	f.DurationVar(&cfg.MaxWait, "max-wait", cfg.MaxWait, "maximum wait between tasks")
	f.Float64Var(&cfg.RPS, "rps", cfg.RPS, "global request rate limit (0 = unlimited)")
	f.StringVar(&cfg.LoginPath, "login-path", cfg.LoginPath, "login endpoint")
	f.StringVar(&cfg.SubmitPath, "submit-path", cfg.SubmitPath, "form submission endpoint")
	f.StringVar(&cfg.PagePath, "page-path", cfg.PagePath, "page endpoint")
	f.StringVar(&cfg.Username, "username", cfg.Username, "login username")
	f.StringVar(&cfg.Password, "password", cfg.Password, "login password")
	f.StringVar(&cfg.Email, "email", cfg.Email, "email in the submit payload")
	f.StringVar(&cfg.SendTime, "time", cfg.SendTime, "time in the submit payload")
	f.StringSliceVar(&cfg.SimulatedCookies, "cookie", cfg.SimulatedCookies, "cookie names sent with every task, valued from the login response")
	f.BoolVar(&cfg.KeepSession, "keep-session", false, "replay the server's session cookies instead of the simulated ones")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func printSummary(cmd *cobra.Command, s loadgen.Summary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tREQUESTS\tFAILURES\tAVG\tMIN\tMAX")
	for _, t := range s.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.Name,
			humanize.Comma(int64(t.Requests)), humanize.Comma(int64(t.Failures)),
			t.Avg(), t.Min, t.Max)
	}
	fmt.Fprintf(w, "TOTAL\t%s\t%s\t\t\t\n", humanize.Comma(int64(s.Requests())), humanize.Comma(int64(s.Failures())))
	_ = w.Flush()

	rps := 0.0
	if secs := s.Elapsed.Seconds(); secs > 0 {
		rps = float64(s.Requests()) / secs
	}
	cmd.Printf("elapsed %s, %s req/s\n", s.Elapsed.Round(1e6), humanize.FormatFloat("#,###.##", rps))
}
