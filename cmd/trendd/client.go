package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindloop/trendd/internal/model"
)

var (
	flagPeriod string
	flagLimit  int
)

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagPeriod, "period", "30d", "ranking window (7d or 30d)")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "number of entries (0 = server default)")
}

// getJSON fetches path from the configured server and decodes into out.
func getJSON(path string, query url.Values, out any) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	u.Path = path
	u.RawQuery = query.Encode()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("requesting %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func trendQuery() url.Values {
	q := url.Values{}
	q.Set("period", flagPeriod)
	if flagLimit > 0 {
		q.Set("limit", strconv.Itoa(flagLimit))
	}
	return q
}

func printTrend(resp model.TrendResponse) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tKEYWORD\tSCORE")
	for _, item := range resp.Items {
		fmt.Fprintf(w, "%d\t%s\t%d\n", item.Rank, item.Keyword, item.Score)
	}
	return w.Flush()
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the global keyword ranking",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp model.TrendResponse
		if err := getJSON("/v1/trend/top", trendQuery(), &resp); err != nil {
			return err
		}
		return printTrend(resp)
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend <parent-keyword>",
	Short: "Show the ranking scoped to one parent keyword",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp model.TrendResponse
		if err := getJSON("/v1/trend/"+url.PathEscape(args[0]), trendQuery(), &resp); err != nil {
			return err
		}
		return printTrend(resp)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search ranked keywords by substring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := trendQuery()
		q.Set("keyword", args[0])
		var resp model.TrendResponse
		if err := getJSON("/v1/trend/search", q, &resp); err != nil {
			return err
		}
		return printTrend(resp)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		if err := getJSON("/v1/health", nil, &resp); err != nil {
			return err
		}
		fmt.Println(resp["status"])
		return nil
	},
}

func init() {
	addQueryFlags(topCmd)
	addQueryFlags(trendCmd)
	addQueryFlags(searchCmd)
}
