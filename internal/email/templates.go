package email

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Message - шаблон уведомления: тема и текст
type Message interface {
	Subject() string
	templateName() string
}

// CompanyRegistered - администратору: новая компания на модерации
type CompanyRegistered struct {
	CompanyName string
	CompanyType string
	Contact     string
	AdminURL    string
}

func (m CompanyRegistered) Subject() string {
	return "Nouvelle entreprise à valider : " + m.CompanyName
}
func (CompanyRegistered) templateName() string { return "company_registered" }

// CompanyModerated - контакту компании: решение модерации
type CompanyModerated struct {
	CompanyName string
	Status      string
	Reason      string
	AppURL      string
}

func (m CompanyModerated) Subject() string {
	return "Votre entreprise " + m.CompanyName + " : " + statusLabel(m.Status)
}
func (CompanyModerated) templateName() string { return "company_moderated" }

// MandatCreated - администратору: новый мандат на модерации
type MandatCreated struct {
	MandatID        string
	PickupAddress   string
	DeliveryAddress string
	PrixEstimeTTC   float64
	AdminURL        string
}

func (m MandatCreated) Subject() string {
	return "Nouveau mandat à valider : " + m.PickupAddress + " → " + m.DeliveryAddress
}
func (MandatCreated) templateName() string { return "mandat_created" }

// MandatUpdated - экспедитору: мандат сменил статус
type MandatUpdated struct {
	MandatID        string
	PickupAddress   string
	DeliveryAddress string
	Status          string
	Note            string
	MandatURL       string
}

func (m MandatUpdated) Subject() string {
	return "Mandat " + shortID(m.MandatID) + " : " + statusLabel(m.Status)
}
func (MandatUpdated) templateName() string { return "mandat_updated" }

// MemberInvited - приглашенному пользователю
type MemberInvited struct {
	CompanyName string
	AcceptURL   string
}

func (m MemberInvited) Subject() string {
	return "Invitation à rejoindre " + m.CompanyName
}
func (MemberInvited) templateName() string { return "member_invited" }

var templates = template.Must(template.New("root").Funcs(template.FuncMap{
	"chf":    func(v float64) string { return fmt.Sprintf("%.2f CHF", v) },
	"status": statusLabel,
}).Parse(`
{{define "company_registered"}}Une nouvelle entreprise attend votre validation.

Entreprise : {{.CompanyName}} ({{.CompanyType}})
Contact : {{.Contact}}

{{.AdminURL}}
{{end}}
{{define "company_moderated"}}Bonjour,

Le statut de {{.CompanyName}} est désormais : {{status .Status}}.
{{if .Reason}}Motif : {{.Reason}}
{{end}}
{{.AppURL}}
{{end}}
{{define "mandat_created"}}Un nouveau mandat attend votre validation.

Départ : {{.PickupAddress}}
Arrivée : {{.DeliveryAddress}}
Prix estimé TTC : {{chf .PrixEstimeTTC}}

{{.AdminURL}}
{{end}}
{{define "mandat_updated"}}Bonjour,

Votre mandat {{.PickupAddress}} → {{.DeliveryAddress}} est passé au statut : {{status .Status}}.
{{if .Note}}Remarque : {{.Note}}
{{end}}
{{.MandatURL}}
{{end}}
{{define "member_invited"}}Bonjour,

Vous êtes invité(e) à rejoindre {{.CompanyName}} sur la plateforme.
Pour accepter l'invitation (valable 7 jours) :

{{.AcceptURL}}
{{end}}
`))

// Render собирает письмо по шаблону
func Render(to []string, msg Message) (*Email, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, msg.templateName(), msg); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", msg.templateName(), err)
	}
	return &Email{
		To:       to,
		Subject:  msg.Subject(),
		TextBody: strings.TrimSpace(buf.String()) + "\n",
	}, nil
}

var statusLabels = map[string]string{
	"approved":         "validé",
	"rejected":         "refusé",
	"suspended":        "suspendu",
	"claimed":          "accepté par un transporteur",
	"in_transit":       "en cours de transport",
	"delivered":        "livré",
	"delivery_problem": "problème de livraison",
	"cancelled":        "annulé",
}

func statusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
