package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrzor/currentop/internal/output"
)

const defaultAddr = "127.0.0.1:8089"

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List in-progress operations from a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		expr, _ := cmd.Flags().GetString("filter")
		asJSON, _ := cmd.Flags().GetBool("json")

		target := serverURL(cmd, "/currentop")
		if expr != "" {
			target += "?filter=" + url.QueryEscape(expr)
		}
		body, err := request(cmd.Context(), http.MethodGet, target)
		if err != nil {
			return err
		}
		if asJSON {
			_, err = cmd.OutOrStdout().Write(body)
			return err
		}

		var report output.Report
		if err := json.Unmarshal(body, &report); err != nil {
			return fmt.Errorf("failed to decode report: %w", err)
		}
		return printReport(cmd.OutOrStdout(), report)
	},
}

var killCmd = &cobra.Command{
	Use:   "kill OPID",
	Short: "Interrupt an operation on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := request(cmd.Context(), http.MethodDelete, serverURL(cmd, "/ops/"+url.PathEscape(args[0])))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(opsCmd, killCmd)
	opsCmd.Flags().String("filter", "", "Expression selecting operations")
	opsCmd.Flags().Bool("json", false, "Print the raw JSON report")
}

func serverURL(cmd *cobra.Command, path string) string {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = os.Getenv("CURRENTOP_LISTEN_ADDR")
	}
	if addr == "" {
		addr = defaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/") + path
}

func request(ctx context.Context, method, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return nil, fmt.Errorf("%s", resp.Status)
	}
	return body, nil
}

func printReport(w io.Writer, report output.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPID\tWORKER\tPID\tSECS\tCOMMAND\tAPP\tLSID\tFLAGS")
	for _, rec := range report.InProg {
		var flags []string
		if rec.Truncated {
			flags = append(flags, "truncated")
		}
		if rec.Unavailable {
			flags = append(flags, "unavailable")
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			rec.OpID, rec.Worker, rec.PID, rec.SecsRunning,
			rec.CommandName, rec.AppName, rec.SessionID, strings.Join(flags, ","))
	}
	return tw.Flush()
}
