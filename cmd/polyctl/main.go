// Command polyctl posts vehicles to a running polyguard server.
//
//	polyctl post --vehicle aircraft --deployment whitelist
//	polyctl scenarios
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/call"
	"github.com/ai8future/polyguard/deploy"
	"github.com/ai8future/polyguard/driver"
	"github.com/ai8future/polyguard/vehicles"
	"github.com/ai8future/polyguard/vehicles/catalog"
)

func main() {
	polyguard.RequireMajor(1)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	rootCmd := &cobra.Command{
		Use:           "polyctl",
		Short:         "polyctl sends polymorphic vehicle payloads to a polyguard server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", envOr("POLYGUARD_URL", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", call.DefaultTimeout, "per request timeout")

	newDriver := func() *driver.Driver {
		return driver.New(baseURL, driver.WithClient(call.New(call.WithTimeout(timeout))))
	}

	var deployment, kind string
	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Post one wrapped vehicle and print the response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := catalog.New(kind)
			if err != nil {
				return err
			}
			resp, err := newDriver().SendPost(cmd.Context(), vehicles.Wrap(v), deployment)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp)
			return err
		},
	}
	postCmd.Flags().StringVar(&deployment, "deployment", deploy.WhiteList, "deployment to post to")
	postCmd.Flags().StringVar(&kind, "vehicle", "automobile", "vehicle kind: "+strings.Join(catalog.Kinds(), "|"))

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Run the acceptance scenarios against the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := newDriver().Run(cmd.Context(), driver.Scenarios())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Passed() {
					fmt.Fprintf(out, "PASS  %s\n", r.Scenario.Name)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL  %s: %s\n      %s\n", r.Scenario.Name, r.Failure(), r.Response)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of polyctl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "polyctl version %s\n", polyguard.Version)
			return err
		},
	}

	rootCmd.AddCommand(postCmd, scenariosCmd, versionCmd)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
