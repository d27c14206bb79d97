package email

import (
	"bytes"
	"fmt"
	"html/template"
	"news-summariser/pkg/digest"
	"strings"
	"time"
)

const digestTpl = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; background: #fff; }
h1 { color: #0078d4; }
h2 { font-size: 18px; margin-top: 24px; }
.summary { white-space: pre-wrap; }
.sources li { margin-bottom: 6px; }
.footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 12px; color: #888; }
a { color: #0078d4; text-decoration: none; }
a:hover { text-decoration: underline; }
@media (prefers-color-scheme: dark) {
body { background: #1a1a1a; color: #e0e0e0; }
.footer { color: #a0a0a0; border-top-color: #444; }
}
</style>
</head>
<body>
<h1>News Daily Summary</h1>
<p><strong>Date:</strong> {{.Date}}</p>
{{if .Text}}<div class="summary" style="white-space: pre-wrap;">{{.Text}}</div>
{{end}}{{if .Sources}}<h2>Source Articles</h2>
<ol class="sources">
{{range .Sources}}<li><a href="{{.URL}}">{{.Title}}</a></li>
{{end}}</ol>
{{end}}<div class="footer">
<p>You are receiving this email because you subscribed to News Summariser.</p>
{{if .UnsubscribeURL}}<p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>
{{end}}<p>&copy; {{.Year}} News Summariser. All rights reserved.</p>
</div>
</body>
</html>`

const verificationTpl = `<p>Confirm your subscription by clicking this link:</p>
<p><a href="{{.}}">{{.}}</a></p>
<p>If you did not request this, you can ignore this email.</p>`

var (
	digestTmpl       = template.Must(template.New("digest").Parse(digestTpl))
	verificationTmpl = template.Must(template.New("verification").Parse(verificationTpl))
)

type digestView struct {
	Date           string
	Text           string
	UnsubscribeURL string
	Sources        []digest.SourceArticle
	Year           int
}

// newDigestView keeps only sources with both a title and a safe link.
func newDigestView(s digest.Summary, unsubscribeURL string, now time.Time) digestView {
	d := digestView{
		Date:           now.UTC().Format(time.DateOnly),
		Text:           strings.TrimSpace(s.SummaryText),
		UnsubscribeURL: unsubscribeURL,
		Year:           now.UTC().Year(),
	}
	for _, src := range s.SourceArticles {
		if src.Title == "" || src.URL == "" || !isSafeURL(src.URL) {
			continue
		}
		d.Sources = append(d.Sources, src)
	}
	return d
}

func digestHTML(d digestView) (string, error) {
	var buf bytes.Buffer
	if err := digestTmpl.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func digestText(d digestView) string {
	var b strings.Builder

	b.WriteString("News Daily Summary\n\n")
	b.WriteString(fmt.Sprintf("Date: %s\n\n", d.Date))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	if d.Text != "" {
		b.WriteString(d.Text)
		b.WriteString("\n\n")
	}

	if len(d.Sources) > 0 {
		b.WriteString("Source Articles:\n\n")
		for i, src := range d.Sources {
			b.WriteString(fmt.Sprintf("%d. %s\n   %s\n\n", i+1, src.Title, src.URL))
		}
		b.WriteString(strings.Repeat("-", 50) + "\n\n")
	}

	b.WriteString("You are receiving this email because you subscribed to News Summariser.\n")
	if d.UnsubscribeURL != "" {
		b.WriteString(fmt.Sprintf("Unsubscribe: %s\n", d.UnsubscribeURL))
	}
	b.WriteString(fmt.Sprintf("© %d News Summariser. All rights reserved.\n", d.Year))

	return b.String()
}

func verificationBodies(link string) (text, html string, err error) {
	text = fmt.Sprintf("Confirm your subscription by clicking this link:\n\n%s\n\nIf you did not request this, you can ignore this email.", link)

	var buf bytes.Buffer
	if err := verificationTmpl.Execute(&buf, link); err != nil {
		return "", "", err
	}
	return text, buf.String(), nil
}

// isSafeURL reports whether a link may be rendered into an email.
// Only absolute http and https URLs are allowed.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))
	return strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://")
}
