package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"io"
	texttemplate "text/template"
	"time"

	"github.com/emersion/go-message/mail"

	"projectscout-engine/internal/domain"
)

// Digest is everything one notification mail renders.
type Digest struct {
	Listings    []domain.Listing
	ScanTime    time.Time
	FrontendURL string
}

func (d Digest) Subject() string {
	if len(d.Listings) == 1 {
		return "ProjectScout: 1 neues Projekt gefunden"
	}
	return fmt.Sprintf("ProjectScout: %d neue Projekte gefunden", len(d.Listings))
}

func (d Digest) When() string { return d.ScanTime.Format("02.01.2006 15:04:05") }

var textTmpl = texttemplate.Must(texttemplate.New("text").Parse(
	`{{len .Listings}} neue Projekte (Scan vom {{.When}})

{{range .Listings}}- {{.Title}}{{if .CompanyName}} | {{.CompanyName}}{{end}}{{if .Location}} | {{.Location}}{{end}}{{if .IsRemoteWorkPossible}} | remote{{end}}
  {{.URL}}
{{end}}
Dashboard: {{.FrontendURL}}
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<!doctype html>
<html><body style="font-family: sans-serif">
<h2>{{len .Listings}} neue Projekte</h2>
<p style="color:#666">Scan vom {{.When}}</p>
<ul>
{{range .Listings}}<li>
<a href="{{.URL}}"><strong>{{.Title}}</strong></a>
{{if .CompanyName}}<br>{{.CompanyName}}{{end}}
{{if .Location}}<br>{{.Location}}{{end}}{{if .IsRemoteWorkPossible}} (remote möglich){{end}}
{{if .Skills}}<br><small>{{range $i, $s := .Skills}}{{if $i}}, {{end}}{{$s}}{{end}}</small>{{end}}
</li>
{{end}}</ul>
<p><a href="{{.FrontendURL}}">Zum Dashboard</a></p>
</body></html>
`))

// BuildMessage renders d into a multipart/alternative RFC 5322 message.
func BuildMessage(from, to string, d Digest) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("from address %q: %w", from, err)
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("to address %q: %w", to, err)
	}

	var h mail.Header
	h.SetDate(d.ScanTime)
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(d.Subject())
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/plain", func(w io.Writer) error { return textTmpl.Execute(w, d) }); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", func(w io.Writer) error { return htmlTmpl.Execute(w, d) }); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType string, render func(io.Writer) error) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return err
	}
	if err := render(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("render %s: %w", contentType, err)
	}
	return w.Close()
}
