package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Data        any
}

func formatTime(v any, layout string) string {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return ""
		}
		t = *val
	default:
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}

var currencySymbols = map[string]string{
	"INR": "₹",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	printer := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"formatDate": func(v any) string {
			return formatTime(v, "02 Jan 2006")
		},
		"formatDateTime": func(v any) string {
			return formatTime(v, "02 Jan 2006 15:04")
		},
		"inputDate": func(v any) string {
			return formatTime(v, "2006-01-02")
		},
		"formatMoney": func(currency string, amount decimal.Decimal) string {
			symbol, ok := currencySymbols[currency]
			if !ok {
				symbol = currency + " "
			}
			f, _ := amount.Round(2).Float64()
			return symbol + printer.Sprintf("%.2f", f)
		},
		"formatPercent": func(rate decimal.Decimal) string {
			return rate.StringFixed(2) + "%"
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderString executes a named template and returns the HTML, for
// callers feeding a PDF renderer instead of an HTTP response.
func (e *Engine) RenderString(name string, data TemplateData) (string, error) {
	if e == nil {
		return "", fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
