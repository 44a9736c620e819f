package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	recall "github.com/altanhq/recall"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
<title>How Databases Work</title>
<meta property="og:description" content="An intro to storage engines.">
<meta property="og:site_name" content="DB Weekly">
<meta property="article:published_time" content="2024-03-15T10:00:00Z">
</head>
<body>
<nav>Home | About | Contact</nav>
<div class="sidebar">Trending posts you might like</div>
<article>
<h1>How Databases Work</h1>
<p>A storage engine organizes data on disk so that reads and writes stay fast
as the dataset grows past memory. Most engines are built around either
B-trees or log-structured merge trees, and the choice shapes everything
from write amplification to range scan performance in practice.</p>
<p>B-trees keep pages sorted in place and shine for read-heavy workloads,
while LSM trees buffer writes in memory and flush them in sorted runs,
trading read amplification for very cheap sequential writes on disk.</p>
</article>
<footer>Copyright 2024 DB Weekly</footer>
</body>
</html>`

func TestWebExtractorFetchAndExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML)) //nolint:errcheck
	}))
	defer srv.Close()

	e := NewWebExtractor()
	body, err := e.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	content, err := e.Extract(context.Background(), body, srv.URL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if content.Title != "How Databases Work" {
		t.Errorf("title = %q", content.Title)
	}
	if !strings.Contains(content.Text, "storage engine organizes data") {
		t.Errorf("article body missing:\n%s", content.Text)
	}
	for _, junk := range []string{"Home | About", "Trending posts", "Copyright 2024"} {
		if strings.Contains(content.Text, junk) {
			t.Errorf("text still contains furniture %q", junk)
		}
	}
	if content.Metadata["description"] != "An intro to storage engines." {
		t.Errorf("description = %v", content.Metadata["description"])
	}
	if content.Metadata["site_name"] != "DB Weekly" {
		t.Errorf("site_name = %v", content.Metadata["site_name"])
	}
	if content.PublishedAt == nil {
		t.Fatal("expected published time from article:published_time")
	}
	if got := content.PublishedAt.UTC().Format("2006-01-02"); got != "2024-03-15" {
		t.Errorf("published = %s, want 2024-03-15", got)
	}
}

func TestWebExtractorFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewWebExtractor()
	_, err := e.Fetch(context.Background(), srv.URL)
	if recall.KindOf(err) != recall.KindExtraction {
		t.Errorf("KindOf = %q, want %q", recall.KindOf(err), recall.KindExtraction)
	}
}

func TestWebExtractorNoReadableContent(t *testing.T) {
	e := NewWebExtractor()
	_, err := e.Extract(context.Background(), []byte("<html><body><nav>only chrome</nav></body></html>"), "http://example.com")
	if recall.KindOf(err) != recall.KindExtraction {
		t.Errorf("KindOf = %q, want %q", recall.KindOf(err), recall.KindExtraction)
	}
}

func TestHostTitle(t *testing.T) {
	if got := hostTitle("https://blog.example.com/post/42"); got != "blog.example.com" {
		t.Errorf("got %q", got)
	}
	if got := hostTitle("not a url"); got != "not a url" {
		t.Errorf("malformed URL should pass through, got %q", got)
	}
}

func TestCleanLines(t *testing.T) {
	in := "Real   content line here\nok\n\n\nMore content follows"
	got := cleanLines(in)
	if strings.Contains(got, "ok") {
		t.Error("two-char lines should be dropped")
	}
	if !strings.Contains(got, "Real content line here") {
		t.Error("inner whitespace should collapse to single spaces")
	}
}
