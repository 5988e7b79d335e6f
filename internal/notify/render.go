package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/textsearch"
)

const textBody = `{{.Subject}}

Acessar Diário Oficial de {{.Date}}: {{.EditionLink}}

Foram encontradas {{.Count}} novas notificações para o Diário Oficial do dia {{.Date}} para os termos:
{{range .Terms}}- {{.Text}}{{if .Exact}} (exato){{end}}
{{end}}
Os trechos destacados são:
{{range .Highlights}}- Página {{.Page}} [{{.Term}}]: {{.Text}}
  {{.Link}}
{{end}}`

const htmlBody = `<html>
<body>
<h2>{{.Subject}}</h2>
<p><a href="{{.EditionLink}}">Acessar Diário Oficial de {{.Date}}</a></p>
<p>Foram encontradas {{.Count}} novas notificações para o Diário Oficial do dia {{.Date}} para os termos:</p>
<ul>
{{range .Terms}}<li>{{.Text}}{{if .Exact}} (exato){{end}}</li>
{{end}}</ul>
<h3>Os trechos destacados são:</h3>
<ul>
{{range .Highlights}}<li><strong>Página {{.Page}}</strong> ({{.Term}}): {{.HTML}}<br><a href="{{.Link}}">Ver página</a></li>
{{end}}</ul>
</body>
</html>
`

// view is the model shared by the text and HTML bodies.
type view struct {
	Subject     string
	Date        string
	EditionLink string
	Count       int
	Terms       []gazette.Term
	Highlights  []highlightView
}

type highlightView struct {
	Page int
	Term string
	Text string
	HTML htmltemplate.HTML
	Link string
}

// Renderer turns reports into messages.
type Renderer struct {
	links gazette.LinkBuilder
	text  *texttemplate.Template
	html  *htmltemplate.Template
}

// NewRenderer parses the message templates.
func NewRenderer(links gazette.LinkBuilder) (*Renderer, error) {
	if links.ViewerURL == "" {
		links = gazette.NewLinkBuilder("", 0)
	}
	text, err := texttemplate.New("text").Parse(textBody)
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	html, err := htmltemplate.New("html").Parse(htmlBody)
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	return &Renderer{links: links, text: text, html: html}, nil
}

// Render builds the message for one watcher. The export is attached only
// when requested and the report has highlights.
func (r *Renderer) Render(rep gazette.Report, recipients []string, subject string, attachExport bool) (Message, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	v := view{
		Subject:     subject,
		Date:        formatDate(rep.PublicationDate),
		EditionLink: r.links.EditionLink(rep.PublicationDate),
		Count:       rep.Count(),
		Terms:       rep.Terms,
		Highlights:  make([]highlightView, 0, len(rep.Highlights)),
	}
	for _, h := range rep.Highlights {
		v.Highlights = append(v.Highlights, highlightView{
			Page: h.Page,
			Term: h.Term,
			Text: plainExcerpt(h.Content),
			HTML: htmlExcerpt(h.Content),
			Link: h.PageLink,
		})
	}

	var text, html bytes.Buffer
	if err := r.text.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := r.html.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}

	msg := Message{
		To:      append([]string(nil), recipients...),
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}
	if attachExport && rep.Count() > 0 {
		data, err := ExportCSV(rep)
		if err != nil {
			return Message{}, err
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    ExportFilename(rep.PublicationDate),
			ContentType: CSVContentType,
			Data:        data,
		})
	}
	return msg, nil
}

func formatDate(d civil.Date) string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, int(d.Month), d.Year)
}

var plainMarks = strings.NewReplacer(textsearch.MarkStart, "*", textsearch.MarkEnd, "*")

func plainExcerpt(s string) string {
	return plainMarks.Replace(s)
}

// htmlExcerpt escapes page text and then restores the match markers as tags.
func htmlExcerpt(s string) htmltemplate.HTML {
	escaped := htmltemplate.HTMLEscapeString(s)
	escaped = strings.NewReplacer(
		htmltemplate.HTMLEscapeString(textsearch.MarkStart), textsearch.MarkStart,
		htmltemplate.HTMLEscapeString(textsearch.MarkEnd), textsearch.MarkEnd,
	).Replace(escaped)
	return htmltemplate.HTML(escaped) //nolint:gosec // escaped above; only <b> markers restored
}
