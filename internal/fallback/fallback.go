// Package fallback synthesizes the responses served when neither the network
// nor a store can answer a request.
package fallback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/monastery360/offline-proxy/internal/cache"
)

// Texts holds every human-readable string a fallback can carry.
type Texts struct {
	OfflineMessage     string
	AssetUnavailable   string
	ServiceUnavailable string

	ImageText   string
	ImageWidth  int
	ImageHeight int

	PageTitle   string
	PageHeading string
	PageMessage string
	PageHint    string
	RetryLabel  string
}

// DefaultTexts returns the texts shipped with the site.
func DefaultTexts() Texts {
	return Texts{
		OfflineMessage:     "I'm currently offline. Please check your internet connection and try again.",
		AssetUnavailable:   "Asset not available offline",
		ServiceUnavailable: "Service unavailable",
		ImageText:          "Image unavailable offline",
		ImageWidth:         300,
		ImageHeight:        200,
		PageTitle:          "Monastery360 - Offline",
		PageHeading:        "You're offline",
		PageMessage:        "Please check your internet connection to access the latest monastery information and chatbot features.",
		PageHint:           "Some content may be available from your cache.",
		RetryLabel:         "Try Again",
	}
}

// Synthesizer renders fallbacks. It is safe for concurrent use.
type Synthesizer struct {
	texts Texts
	page  *template.Template
	now   func() time.Time
}

// New builds a synthesizer with the built-in offline page.
func New(texts Texts) *Synthesizer {
	return &Synthesizer{
		texts: texts,
		page:  template.Must(template.New("offline").Parse(defaultPage)),
		now:   time.Now,
	}
}

// NewWithPageFile builds a synthesizer whose offline page is rendered from an
// html/template file. The template receives the Texts value.
func NewWithPageFile(texts Texts, path string) (*Synthesizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading offline page template: %w", err)
	}
	page, err := template.New("offline").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing offline page template: %w", err)
	}
	// rendering once catches missing fields before the first request does
	if err := page.Execute(&bytes.Buffer{}, texts); err != nil {
		return nil, fmt.Errorf("rendering offline page template: %w", err)
	}
	s := New(texts)
	s.page = page
	return s, nil
}

func (s *Synthesizer) Texts() Texts { return s.texts }

// OfflineJSON is the degraded answer of the chat endpoint.
func (s *Synthesizer) OfflineJSON() *cache.Entry {
	msg, _ := json.Marshal(s.texts.OfflineMessage)
	body := append(append([]byte(`{"answer": `), msg...), '}')
	return s.response(http.StatusServiceUnavailable, "application/json", body)
}

// PlaceholderImage is a visual substitute, so it carries a 200 status.
func (s *Synthesizer) PlaceholderImage() *cache.Entry {
	body := fmt.Sprintf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
  <rect width="100%%" height="100%%" fill="#f1f5f9"/>
  <text x="50%%" y="50%%" text-anchor="middle" dy=".3em" fill="#64748b">%s</text>
</svg>`, s.texts.ImageWidth, s.texts.ImageHeight, html.EscapeString(s.texts.ImageText))
	return s.response(http.StatusOK, "image/svg+xml", []byte(body))
}

// OfflinePage is the document served to navigations with nothing cached.
func (s *Synthesizer) OfflinePage() *cache.Entry {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, s.texts); err != nil {
		// a template that rendered at construction can only fail on writes
		buf.Reset()
		buf.WriteString(html.EscapeString(s.texts.PageHeading))
	}
	return s.response(http.StatusServiceUnavailable, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Synthesizer) AssetUnavailable() *cache.Entry {
	return s.response(http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(s.texts.AssetUnavailable))
}

func (s *Synthesizer) ServiceUnavailable() *cache.Entry {
	return s.response(http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(s.texts.ServiceUnavailable))
}

func (s *Synthesizer) response(status int, contentType string, body []byte) *cache.Entry {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-store")
	return &cache.Entry{Status: status, Header: h, Body: body, StoredAt: s.now()}
}

const defaultPage = `<!DOCTYPE html>
<html>
<head>
  <title>{{.PageTitle}}</title>
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <style>
    body { font-family: system-ui, sans-serif; text-align: center; padding: 2rem; background: #f8fafc; color: #334155; }
    .container { max-width: 500px; margin: 0 auto; }
    h1 { color: #f97316; margin-bottom: 1rem; }
    p { margin-bottom: 1rem; line-height: 1.6; }
    .btn { background: #f97316; color: white; padding: 0.75rem 1.5rem; border: none; border-radius: 0.5rem; cursor: pointer; }
  </style>
</head>
<body>
  <div class="container">
    <h1>{{.PageTitle}}</h1>
    <h2>{{.PageHeading}}</h2>
    <p>{{.PageMessage}}</p>
    {{if .PageHint}}<p>{{.PageHint}}</p>{{end}}
    <button class="btn" onclick="window.location.reload()">{{.RetryLabel}}</button>
  </div>
</body>
</html>
`
