package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/parley-chat/parley/models"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// WebSearchTool returns the web-search tool, backed by the Brave Search
// API. Requires BRAVE_API_KEY in the environment.
func WebSearchTool() Tool {
	return Tool{
		Declaration: models.FunctionDeclaration{
			Name:        "web_search",
			Description: "Search the web using Brave Search. Returns titles, URLs, and snippets.",
			Parameters: models.Parameters{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Search query string",
					},
				},
				Required: []string{"query"},
			},
		},
		Handler: webSearch,
	}
}

type braveSearchResponse struct {
	Query struct {
		Original string `json:"original"`
	} `json:"query"`
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func webSearch(ctx context.Context, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query must be a non-empty string")
	}
	apiKey := os.Getenv("BRAVE_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("BRAVE_API_KEY environment variable not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	q := req.URL.Query()
	q.Add("q", query)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request to Brave Search API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Brave Search API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result braveSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("error unmarshalling Brave Search API response: %w", err)
	}
	return formatSearchResults(result), nil
}

// formatSearchResults converts the search response into readable text,
// stripping the highlight tags Brave embeds in titles and descriptions.
func formatSearchResults(result braveSearchResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search Query: %s\n\n", result.Query.Original)

	if len(result.Web.Results) == 0 {
		b.WriteString("No web results found.\n")
		return b.String()
	}
	for i, r := range result.Web.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n\n",
			i+1, stripStrongTags(r.Title), r.URL, stripStrongTags(r.Description))
	}
	return b.String()
}

func stripStrongTags(s string) string {
	s = strings.ReplaceAll(s, "<strong>", "")
	s = strings.ReplaceAll(s, "</strong>", "")
	return s
}
