package tool

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// searxngResult is one hit from SearXNG's JSON search API
// (GET {host}/search?q=...&format=json).
type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searchWebArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Search query string"`
	NumResults int    `json:"num_results,omitempty" jsonschema:"description=Number of results (1-20),default=5"`
}

type webScrapeArgs struct {
	URL string `json:"url" jsonschema:"required,description=Page URL to fetch and extract readable text from"`
}

// RegisterWebTools wires search_web/web_scrape against a SearXNG instance
// at searxngHost, grounded on
// original_source/src/executive_assistant/tools/search_tool.py's
// `_search_with_searxng` path (the Firecrawl provider branch is out of
// scope: it needs a paid external API key with no equivalent dependency
// anywhere in the example pack). Both tools use only stdlib `net/http` —
// no repo in the pack carries an HTTP client or HTML-scraping library, so
// this is the one ambient-HTTP concern implemented on the standard
// library rather than a third-party dependency.
func RegisterWebTools(r *Registry, searxngHost string, fetchTimeout time.Duration) error {
	searchSchema, err := SchemaFor[searchWebArgs]()
	if err != nil {
		return err
	}
	scrapeSchema, err := SchemaFor[webScrapeArgs]()
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: fetchTimeout}

	if err := r.Register("search_web", Tool{
		Name:        "search_web",
		Description: "Search the web via a SearXNG metasearch instance and return titles, URLs, and snippets.",
		Schema:      searchSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			if searxngHost == "" {
				return "Configuration error: SearXNG host not configured.", nil
			}
			query, _ := args["query"].(string)
			numResults := 5
			if n, ok := args["num_results"].(int64); ok && n > 0 {
				numResults = int(n)
			}
			if numResults > 20 {
				numResults = 20
			}
			if numResults < 1 {
				numResults = 1
			}

			u := strings.TrimRight(searxngHost, "/") + "/search?" + url.Values{
				"q":      {query},
				"format": {"json"},
			}.Encode()

			req, err := http.NewRequestWithContext(cc.Context, http.MethodGet, u, nil)
			if err != nil {
				return "", fmt.Errorf("search_web: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Sprintf("Search error: %v", err), nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Sprintf("Search error: SearXNG returned status %d", resp.StatusCode), nil
			}

			var parsed searxngResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return "", fmt.Errorf("search_web: decode response: %w", err)
			}
			if len(parsed.Results) == 0 {
				return fmt.Sprintf("No results found for: %s", query), nil
			}
			if len(parsed.Results) > numResults {
				parsed.Results = parsed.Results[:numResults]
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d result(s) for: %s\n\n", len(parsed.Results), query)
			for i, res := range parsed.Results {
				snippet := res.Content
				if len(snippet) > 200 {
					snippet = snippet[:197] + "..."
				}
				fmt.Fprintf(&b, "%d. %s\n   URL: %s\n", i+1, res.Title, res.URL)
				if snippet != "" {
					fmt.Fprintf(&b, "   %s\n", snippet)
				}
			}
			return strings.TrimSpace(b.String()), nil
		},
	}); err != nil {
		return err
	}

	return r.Register("web_scrape", Tool{
		Name:        "web_scrape",
		Description: "Fetch a URL and return its readable text content with HTML tags stripped.",
		Schema:      scrapeSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			target, _ := args["url"].(string)
			req, err := http.NewRequestWithContext(cc.Context, http.MethodGet, target, nil)
			if err != nil {
				return "", fmt.Errorf("web_scrape: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Sprintf("Fetch error: %v", err), nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Sprintf("Fetch error: %s returned status %d", target, resp.StatusCode), nil
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
			if err != nil {
				return "", fmt.Errorf("web_scrape: %w", err)
			}
			return stripHTML(string(body)), nil
		},
	})
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML document to its visible text: a best-effort
// regex strip, not a full parser, since no HTML-parsing library appears
// anywhere in the example pack either.
func stripHTML(html string) string {
	s := scriptStyleRe.ReplaceAllString(html, "")
	s = tagRe.ReplaceAllString(s, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
