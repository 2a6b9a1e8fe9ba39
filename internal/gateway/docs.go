// ABOUTME: Embedded documentation served at /docs, rendered with goldmark.
// ABOUTME: Markdown topics ship inside the binary for single-file deployment.

package gateway

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
)

//go:embed docs/*.md
var docsFS embed.FS

// docTopic is one documentation page in the sidebar.
type docTopic struct {
	Slug   string
	Title  string
	Active bool
}

// topicOrder pins the sidebar ordering; unlisted topics sort after these,
// alphabetically.
var topicOrder = map[string]int{
	"getting-started": 1,
	"configuration":   2,
	"protocol":        3,
	"actions":         4,
}

var docsTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>larder-gateway docs</title>
<style>
body { font-family: system-ui, sans-serif; margin: 0; display: flex; min-height: 100vh; }
nav { width: 220px; background: #f4f1ec; padding: 1.5rem 1rem; }
nav h1 { font-size: 1rem; margin: 0 0 1rem; }
nav a { display: block; padding: 0.3rem 0.5rem; color: #444; text-decoration: none; border-radius: 4px; }
nav a.active { background: #e0d9cc; color: #000; }
main { flex: 1; padding: 2rem 3rem; max-width: 48rem; }
pre { background: #f6f6f6; padding: 0.8rem; overflow-x: auto; border-radius: 4px; }
code { font-family: ui-monospace, monospace; font-size: 0.9em; }
</style>
</head>
<body>
<nav>
<h1>larder-gateway</h1>
{{range .Topics}}<a href="/docs/{{.Slug}}"{{if .Active}} class="active"{{end}}>{{.Title}}</a>
{{end}}</nav>
<main>{{.Content}}</main>
</body>
</html>
`))

// handleDocs handles GET /docs and GET /docs/{topic} requests.
func (g *Gateway) handleDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	topic := strings.Trim(strings.TrimPrefix(r.URL.Path, "/docs"), "/")
	if topic == "" {
		topic = "getting-started"
	}

	content, err := docsFS.ReadFile("docs/" + topic + ".md")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert(content, &htmlBuf); err != nil {
		g.logger.Error("rendering documentation", "topic", topic, "error", err)
		http.Error(w, "failed to render documentation", http.StatusInternalServerError)
		return
	}

	data := struct {
		Topics  []docTopic
		Content template.HTML
	}{
		Topics:  g.docTopics(topic),
		Content: template.HTML(htmlBuf.String()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := docsTemplate.Execute(w, data); err != nil {
		g.logger.Error("rendering documentation page", "error", err)
	}
}

// docTopics lists the embedded topics in sidebar order.
func (g *Gateway) docTopics(active string) []docTopic {
	entries, err := docsFS.ReadDir("docs")
	if err != nil {
		g.logger.Error("reading embedded docs", "error", err)
		return nil
	}

	var topics []docTopic
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		slug := strings.TrimSuffix(entry.Name(), ".md")
		topics = append(topics, docTopic{
			Slug:   slug,
			Title:  topicTitle(slug),
			Active: slug == active,
		})
	}

	sort.Slice(topics, func(i, j int) bool {
		orderI, okI := topicOrder[topics[i].Slug]
		orderJ, okJ := topicOrder[topics[j].Slug]
		if !okI {
			orderI = 100
		}
		if !okJ {
			orderJ = 100
		}
		if orderI != orderJ {
			return orderI < orderJ
		}
		return topics[i].Slug < topics[j].Slug
	})
	return topics
}

// topicTitle converts a slug to a display title.
func topicTitle(slug string) string {
	words := strings.Split(slug, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
