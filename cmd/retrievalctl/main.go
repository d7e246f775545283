package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	serverURL string
	apiKey    string
	timeout   time.Duration

	// Query command flags
	queryMode   string
	queryK      int
	queryJSON   bool
	documentIDs []string
	pathPrefix  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "retrievalctl",
	Short:   "Query and inspect a running retrieval orchestrator",
	Version: version,
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run a one-shot retrieval",
	Long: `Run a one-shot retrieval against a running server and print the
ranked passages.

Examples:
  # Default balanced mode
  retrievalctl query "what is the maximum liability amount"

  # Quality mode, top 12, raw JSON output
  retrievalctl query --mode quality --k 12 --json "compare all notification duties"

  # Restrict to specific documents
  retrievalctl query --document-ids doc-1,doc-2 "termination clauses"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Print the server's resolved mode plan table",
	RunE:  showModes,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the server's health and readiness endpoints",
	RunE:  checkHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (defaults to $RETRIEVAL_SERVER_URL or http://localhost:9020)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the v1 routes (defaults to $RETRIEVAL_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	queryCmd.Flags().StringVar(&queryMode, "mode", "balanced", "retrieval mode (fast, balanced, quality, adaptive)")
	queryCmd.Flags().IntVar(&queryK, "k", 8, "number of passages to return")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the raw JSON response")
	queryCmd.Flags().StringSliceVar(&documentIDs, "document-ids", nil, "restrict retrieval to these document IDs")
	queryCmd.Flags().StringVar(&pathPrefix, "path-prefix", "", "restrict retrieval to documents under this path prefix")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(modesCmd)
	rootCmd.AddCommand(healthCmd)
}

// Wire types mirror the server's v1 JSON contract.

type retrievePayload struct {
	Question string          `json:"question"`
	Mode     string          `json:"mode,omitempty"`
	K        int             `json:"k"`
	Filters  *filtersPayload `json:"filters,omitempty"`
}

type filtersPayload struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	PathPrefix  string   `json:"path_prefix,omitempty"`
}

type passageReply struct {
	PassageID  string  `json:"passage_id"`
	DocumentID string  `json:"document_id"`
	Path       string  `json:"path"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	Fallback   bool    `json:"fallback_score"`
}

type metadataReply struct {
	RetrievalID  string   `json:"retrieval_id"`
	Mode         string   `json:"mode"`
	Complexity   string   `json:"complexity"`
	Strategies   []string `json:"strategies"`
	VariantCount int      `json:"variant_count"`
	Degraded     []string `json:"degraded"`
	CacheHit     bool     `json:"cache_hit"`
	ElapsedMS    int64    `json:"elapsed_ms"`
}

type retrieveReply struct {
	Passages []passageReply `json:"passages"`
	Metadata metadataReply  `json:"metadata"`
}

type planReply struct {
	Strategies  []string `json:"strategies"`
	MaxVariants int      `json:"max_variants"`
	PoolFactor  int      `json:"pool_factor"`
	PoolMin     int      `json:"pool_min"`
	PoolMax     int      `json:"pool_max"`
	UseFusion   bool     `json:"use_fusion"`
	UseRerank   bool     `json:"use_rerank"`
}

type modesReply struct {
	Modes map[string]planReply `json:"modes"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	payload := retrievePayload{
		Question: strings.Join(args, " "),
		Mode:     queryMode,
		K:        queryK,
	}
	if len(documentIDs) > 0 || pathPrefix != "" {
		payload.Filters = &filtersPayload{
			DocumentIDs: documentIDs,
			PathPrefix:  pathPrefix,
		}
	}

	body, err := doRequest(http.MethodPost, "/v1/retrieve", payload)
	if err != nil {
		return err
	}

	if queryJSON {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return fmt.Errorf("malformed response: %w", err)
		}
		fmt.Println(buf.String())
		return nil
	}

	var reply retrieveReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}

	if len(reply.Passages) == 0 {
		fmt.Println("No passages found.")
	}
	for _, p := range reply.Passages {
		marker := ""
		if p.Fallback {
			marker = " (fallback score)"
		}
		fmt.Printf("%2d. [%.4f]%s %s %s\n", p.Rank, p.Score, marker, p.DocumentID, p.Path)
		fmt.Printf("    %s\n", snippet(p.Text, 200))
	}

	m := reply.Metadata
	fmt.Printf("\nMode: %s", m.Mode)
	if m.Complexity != "" {
		fmt.Printf(" (complexity: %s)", m.Complexity)
	}
	fmt.Printf("  Variants: %d", m.VariantCount)
	if len(m.Strategies) > 0 {
		fmt.Printf(" [%s]", strings.Join(m.Strategies, ", "))
	}
	fmt.Printf("  Elapsed: %dms  Cache: %s\n", m.ElapsedMS, cacheLabel(m.CacheHit))
	if len(m.Degraded) > 0 {
		fmt.Printf("Degraded stages: %s\n", strings.Join(m.Degraded, ", "))
	}
	return nil
}

func showModes(cmd *cobra.Command, args []string) error {
	body, err := doRequest(http.MethodGet, "/v1/modes", nil)
	if err != nil {
		return err
	}

	var reply modesReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}

	names := make([]string, 0, len(reply.Modes))
	for name := range reply.Modes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := reply.Modes[name]
		strategies := "none"
		if len(p.Strategies) > 0 {
			strategies = strings.Join(p.Strategies, ", ")
		}
		fmt.Printf("%s\n", name)
		fmt.Printf("  strategies:   %s\n", strategies)
		fmt.Printf("  max variants: %d\n", p.MaxVariants)
		fmt.Printf("  pool:         %dx k (min %d, max %d)\n", p.PoolFactor, p.PoolMin, p.PoolMax)
		fmt.Printf("  fusion:       %t\n", p.UseFusion)
		fmt.Printf("  rerank:       %t\n", p.UseRerank)
	}
	return nil
}

func checkHealth(cmd *cobra.Command, args []string) error {
	probes := []struct {
		name string
		path string
	}{
		{"health", "/healthz"},
		{"readiness", "/readyz"},
	}

	failed := false
	for _, probe := range probes {
		if _, err := doRequest(http.MethodGet, probe.path, nil); err != nil {
			fmt.Printf("%-10s FAIL  %v\n", probe.name, err)
			failed = true
			continue
		}
		fmt.Printf("%-10s OK\n", probe.name)
	}
	if failed {
		return fmt.Errorf("server at %s is not healthy", baseURL())
	}
	return nil
}

func baseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("RETRIEVAL_SERVER_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:9020"
}

func resolveAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv("RETRIEVAL_API_KEY")
}

// doRequest issues one HTTP call and returns the response body. Non-2xx
// responses are turned into errors carrying the server's error message.
func doRequest(method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL()+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := resolveAPIKey(); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return body, nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

func cacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
