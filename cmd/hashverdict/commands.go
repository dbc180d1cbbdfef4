package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmerrifield20/hashverdict/internal/digest"
	"github.com/jmerrifield20/hashverdict/internal/threat"
	"github.com/jmerrifield20/hashverdict/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// verdictRow is one line of scan or lookup output.
type verdictRow struct {
	Target   string         `json:"target"`
	Digest   string         `json:"digest,omitempty"`
	Known    bool           `json:"known"`
	Severity string         `json:"severity,omitempty"`
	Stats    map[string]int `json:"stats,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ── digest ───────────────────────────────────────────────────────────────────

var digestCmd = &cobra.Command{
	Use:   "digest <file> [file] ...",
	Short: "Print the SHA-256 digest of local files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			d, err := digestFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d, path)
		}
		return nil
	},
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck
	d, err := digest.Compute(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// ── scan ─────────────────────────────────────────────────────────────────────

var (
	scanHash  string
	scanToken string
)

var scanCmd = &cobra.Command{
	Use:   "scan [file] ... | scan --hash <digest>",
	Short: "Submit files or a digest to a hashverdict server",
	Long: `Scan uploads each file to the server, which hashes it and looks the
digest up upstream. With --hash, the digest is submitted as-is.

  hashverdict scan --server http://localhost:8080 --token test ./sample.exe
  hashverdict scan --hash 44d88612fea8a8f36de82e1278abb02f`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanHash, "hash", "", "Submit this digest instead of files")
	scanCmd.Flags().StringVar(&scanToken, "token", "", "Auth token (default $TOKEN or config token)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanHash == "" && len(args) == 0 {
		return errors.New("provide at least one file or --hash")
	}
	if scanHash != "" && len(args) > 0 {
		return errors.New("--hash cannot be combined with files")
	}

	token := scanToken
	if token == "" {
		token = viper.GetString("token")
	}
	c, err := client.New(serverURL,
		client.WithToken(token),
		client.WithAuthHeader(viper.GetString("auth_header")),
	)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var rows []verdictRow
	if scanHash != "" {
		res, err := c.ScanHash(ctx, scanHash)
		rows = append(rows, rowFromScan(scanHash, res, err))
	}
	for _, path := range args {
		res, err := scanFile(ctx, c, path)
		rows = append(rows, rowFromScan(path, res, err))
	}
	return printRows(rows)
}

func scanFile(ctx context.Context, c *client.Client, path string) (*client.ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return c.ScanFile(ctx, filepath.Base(path), f)
}

func rowFromScan(target string, res *client.ScanResult, err error) verdictRow {
	if err != nil {
		return verdictRow{Target: target, Error: err.Error()}
	}
	return verdictRow{
		Target:   target,
		Digest:   res.Digest,
		Known:    res.Known,
		Severity: res.Severity,
		Stats:    res.Stats,
	}
}

// ── lookup ───────────────────────────────────────────────────────────────────

var (
	lookupAPIKey  string
	lookupSave    bool
	lookupOutDir  string
	lookupTimeout time.Duration
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <file|digest> ...",
	Short: "Query VirusTotal directly, without a server",
	Long: `Lookup hashes local files (or takes digests verbatim) and queries the
VirusTotal v3 API with your own API key.

  VT_API=... hashverdict lookup ./antonia.txt --save`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().StringVar(&lookupAPIKey, "api-key", "", "VirusTotal API key (default $VT_API)")
	lookupCmd.Flags().BoolVar(&lookupSave, "save", false, "Write each verdict to a timestamped JSON file")
	lookupCmd.Flags().StringVar(&lookupOutDir, "out-dir", ".", "Directory for --save output")
	lookupCmd.Flags().DurationVar(&lookupTimeout, "timeout", 30*time.Second, "Per-lookup timeout; 0 disables")
}

func runLookup(cmd *cobra.Command, args []string) error {
	apiKey := lookupAPIKey
	if apiKey == "" {
		apiKey = viper.GetString("vt_api")
	}
	if apiKey == "" {
		return errors.New("VirusTotal API key required (--api-key or VT_API)")
	}

	var provider threat.Provider = threat.NewVirusTotalClient(viper.GetString("provider_url"), apiKey, nil, zap.NewNop())
	provider = threat.WithTimeout(provider, lookupTimeout)

	rows := make([]verdictRow, 0, len(args))
	for _, target := range args {
		row := lookupTarget(cmd.Context(), provider, target)
		if lookupSave && row.Error == "" && row.Known {
			path, err := saveVerdict(lookupOutDir, time.Now(), row.Stats)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", path)
		}
		rows = append(rows, row)
	}
	return printRows(rows)
}

// lookupTarget hashes target if it names a regular file, otherwise treats it
// as a digest.
func lookupTarget(ctx context.Context, p threat.Provider, target string) verdictRow {
	d := target
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		fd, err := digestFile(target)
		if err != nil {
			return verdictRow{Target: target, Error: err.Error()}
		}
		d = fd.String()
	}

	res, err := p.Lookup(ctx, d)
	if err != nil {
		return verdictRow{Target: target, Digest: d, Error: err.Error()}
	}
	row := verdictRow{Target: target, Digest: d, Severity: threat.Severity(res)}
	switch res.Outcome {
	case threat.OutcomeVerdict:
		row.Known = true
		row.Stats = res.Stats
	case threat.OutcomeUpstreamError:
		row.Error = fmt.Sprintf("provider returned %d: %s", res.Status, res.Body)
	}
	return row
}

// saveVerdict writes stats as indented JSON to dir/YYYY-MM-DD_HH-MM-SS.json.
func saveVerdict(dir string, now time.Time, stats map[string]int) (string, error) {
	data, err := json.MarshalIndent(stats, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode verdict: %w", err)
	}
	path := filepath.Join(dir, now.Format("2006-01-02_15-04-05")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ── output ───────────────────────────────────────────────────────────────────

func printRows(rows []verdictRow) error {
	if outputFormat == "json" {
		var v any = rows
		if len(rows) == 1 {
			v = rows[0]
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tDIGEST\tVERDICT\tDETAIL")
	failed := 0
	for _, r := range rows {
		switch {
		case r.Error != "":
			failed++
			fmt.Fprintf(w, "%s\t%s\terror\t%s\n", r.Target, r.Digest, r.Error)
		case !r.Known:
			fmt.Fprintf(w, "%s\t%s\tunknown\tno record upstream\n", r.Target, r.Digest)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Target, r.Digest, r.Severity, formatStats(r.Stats))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d lookups failed", failed, len(rows))
	}
	return nil
}

// formatStats renders stats as "malicious=0 suspicious=0 ..." with the
// required categories first.
func formatStats(stats map[string]int) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	order := map[string]int{}
	for i, k := range threat.RequiredCategories {
		order[k] = i - len(threat.RequiredCategories)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, oj := order[keys[i]], order[keys[j]]
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, stats[k])
	}
	return out
}
