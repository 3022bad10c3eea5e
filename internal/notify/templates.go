package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
)

const dateLayout = "02/01/2006"

var typeLabels = map[db.AnnouncementType]string{
	db.TypeTribute: "Homenagem",
	db.TypeNotice:  "Falecimento",
	db.TypeOther:   "Outros",
}

func typeLabel(t db.AnnouncementType) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return string(t)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

var funcs = template.FuncMap{
	"typeLabel": typeLabel,
	"date":      formatDate,
}

// view is the data every template renders from.
type view struct {
	App        string
	URL        string
	Plan       string
	A          *db.Announcement
	Advertiser *db.Advertiser
	Title      string
	Message    string
	CTALabel   string
}

var templates = template.Must(template.New("notify").Funcs(funcs).Parse(`
{{define "operator"}}Novo anúncio submetido na {{.App}}.

Tipo: {{typeLabel .A.Type}}
Nome: {{.A.Name}}
Plano: {{.Plan}}
Anunciante: {{.Advertiser.Name}}
Telefone: {{.Advertiser.Phone}}
{{if .URL}}
Rever: {{.URL}}
{{end}}{{end}}

{{define "advertiser"}}Olá {{.Advertiser.Name}},

Recebemos o seu anúncio "{{.A.Name}}". A nossa equipa irá revê-lo e entrará em contacto para confirmar os detalhes e o pagamento.

{{.App}}
{{end}}

{{define "moderation"}}Um novo anúncio foi criado durante a promoção gratuita e aguarda aprovação.

Tipo: {{typeLabel .A.Type}}
Nome: {{.A.Name}}
Plano: {{.Plan}}
Anunciante: {{.Advertiser.Name}}
Telefone: {{.Advertiser.Phone}}
{{if .URL}}
Rever: {{.URL}}
{{end}}{{end}}

{{define "status"}}{{.Title}}

{{.Message}}

Tipo: {{typeLabel .A.Type}}
Nome: {{.A.Name}}
Plano: {{.Plan}}
Validade: {{date .A.ExpiresAt}}
{{if .URL}}
{{.CTALabel}}: {{.URL}}
{{end}}
{{.App}}
{{end}}

{{define "status_sms"}}{{.App}}: {{.Message}}{{if .URL}} {{.URL}}{{end}}{{end}}
`))

func render(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// statusCopy is the title and message shown for a new status.
type statusCopy struct {
	Title   string
	Message string
}

func statusText(a *db.Announcement) statusCopy {
	switch a.Status {
	case db.StatusPublished:
		msg := fmt.Sprintf("O anúncio de %s está publicado.", a.Name)
		if a.ExpiresAt != nil {
			msg = fmt.Sprintf("O anúncio de %s está publicado até %s.", a.Name, a.ExpiresAt.Format(dateLayout))
		}
		return statusCopy{Title: "O seu anúncio foi publicado", Message: msg}
	case db.StatusRejected:
		return statusCopy{
			Title:   "O seu anúncio não foi aprovado",
			Message: fmt.Sprintf("O anúncio de %s não foi aprovado. Contacte-nos para mais informações.", a.Name),
		}
	case db.StatusArchived:
		return statusCopy{
			Title:   "O seu anúncio foi arquivado",
			Message: fmt.Sprintf("O anúncio de %s foi arquivado e já não está visível.", a.Name),
		}
	default:
		return statusCopy{
			Title:   "O seu anúncio está em revisão",
			Message: fmt.Sprintf("O anúncio de %s voltou a estar em revisão.", a.Name),
		}
	}
}
