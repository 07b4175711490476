package notify

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/castoff/charterpay/pkg/booking"
)

const (
	signature      = "Cast Off - Book direct with local charter operators"
	subjectSuffix  = ".subject"
	bodySuffix     = ".body"
	dollarsDivisor = 100
)

var templateSources = map[booking.NotificationKind][2]string{
	booking.NotificationNewRequest: {
		`New booking request - {{.CustomerName}} on {{.TripDate}}`,
		`You have a new booking request.

Customer:   {{.CustomerName}}
Email:      {{.CustomerEmail}}
{{- if .CustomerPhone}}
Phone:      {{.CustomerPhone}}
{{- end}}
Date:       {{.TripDate}}
Trip:       {{.TripType}}
Party size: {{.PartySize}} guests
Total:      {{.Total}}
Deposit:    {{.Deposit}} (authorized, not yet charged)
{{- if .SpecialRequests}}

Special requests: {{.SpecialRequests}}
{{- end}}

Review it in your dashboard: {{.DashboardURL}}

{{.Signature}}
`,
	},
	booking.NotificationConfirmed: {
		`Booking confirmed - {{.BusinessName}} on {{.TripDate}}`,
		`Hi {{.CustomerName}},

Your booking with {{.BusinessName}} has been confirmed.

Date:         {{.TripDate}}
Trip:         {{.TripType}}
Party size:   {{.PartySize}} guests
Total:        {{.Total}}
Deposit paid: {{.Deposit}}
Due on trip:  {{.Remaining}}
{{- if or .OperatorEmail .OperatorPhone}}

Contact your captain:
{{- if .OperatorEmail}}
Email: {{.OperatorEmail}}
{{- end}}
{{- if .OperatorPhone}}
Phone: {{.OperatorPhone}}
{{- end}}
{{- end}}

Booking details: {{.BookingURL}}

{{.Signature}}
`,
	},
	booking.NotificationDeclined: {
		`Booking request declined - {{.BusinessName}} on {{.TripDate}}`,
		`Hi {{.CustomerName}},

{{.BusinessName}} could not accept your {{.TripType}} request for {{.TripDate}}.
The {{.Deposit}} hold on your card has been released and you will not be charged.

Find another date: {{.BookingURL}}

{{.Signature}}
`,
	},
	booking.NotificationRefunded: {
		`Deposit refunded - {{.BusinessName}}`,
		`Hi {{.CustomerName}},

Your booking with {{.BusinessName}} on {{.TripDate}} has been cancelled.
Your deposit of {{.Deposit}} has been refunded. Depending on your bank it can take 5-10 business days to appear.

{{.Signature}}
`,
	},
}

// Rendered is the subject and plain-text body of one email.
type Rendered struct {
	Subject string
	Body    string
}

// Templates renders the booking emails.
type Templates struct {
	set           *template.Template
	publicBaseURL string
}

type emailView struct {
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	BusinessName    string
	OperatorEmail   string
	OperatorPhone   string
	TripDate        string
	TripType        string
	PartySize       int
	Total           string
	Deposit         string
	Remaining       string
	SpecialRequests string
	BookingURL      string
	DashboardURL    string
	Signature       string
}

// NewTemplates parses the email templates. Links point below publicBaseURL.
func NewTemplates(publicBaseURL string) (*Templates, error) {
	set := template.New("notify").Option("missingkey=error")
	for kind, source := range templateSources {
		if _, err := set.New(string(kind) + subjectSuffix).Parse(source[0]); err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", kind, err)
		}
		if _, err := set.New(string(kind) + bodySuffix).Parse(source[1]); err != nil {
			return nil, fmt.Errorf("parse %s body: %w", kind, err)
		}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPublicBaseURL
	}
	return &Templates{set: set, publicBaseURL: baseURL}, nil
}

// Render produces the email for a notification.
func (templates *Templates) Render(notification booking.Notification) (Rendered, error) {
	subjectTemplate := templates.set.Lookup(string(notification.Kind) + subjectSuffix)
	bodyTemplate := templates.set.Lookup(string(notification.Kind) + bodySuffix)
	if subjectTemplate == nil || bodyTemplate == nil {
		return Rendered{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, notification.Kind)
	}
	view := templates.view(notification)
	var subject, body strings.Builder
	if err := subjectTemplate.Execute(&subject, view); err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", notification.Kind, err)
	}
	if err := bodyTemplate.Execute(&body, view); err != nil {
		return Rendered{}, fmt.Errorf("render %s body: %w", notification.Kind, err)
	}
	return Rendered{Subject: strings.TrimSpace(subject.String()), Body: body.String()}, nil
}

func (templates *Templates) view(notification booking.Notification) emailView {
	record := notification.Booking
	operator := notification.Operator
	return emailView{
		CustomerName:    record.Customer.Name,
		CustomerEmail:   record.Customer.Email,
		CustomerPhone:   record.Customer.Phone,
		BusinessName:    operator.BusinessName,
		OperatorEmail:   operator.Email,
		OperatorPhone:   operator.Phone,
		TripDate:        record.TripDate.String(),
		TripType:        tripTypeLabel(record.TripType),
		PartySize:       record.PartySize,
		Total:           formatDollars(record.Price.FinalPrice),
		Deposit:         formatDollars(record.Price.DepositAmount),
		Remaining:       formatDollars(record.Price.FinalPrice - record.Price.DepositAmount),
		SpecialRequests: record.SpecialRequests,
		BookingURL:      templates.publicBaseURL + "/book/" + url.PathEscape(operator.Slug),
		DashboardURL:    templates.publicBaseURL + "/dashboard/bookings",
		Signature:       signature,
	}
}

func tripTypeLabel(tripType booking.TripType) string {
	switch tripType {
	case booking.TripTypeHalfDayMorning:
		return "Half day (morning)"
	case booking.TripTypeHalfDayAfternoon:
		return "Half day (afternoon)"
	case booking.TripTypeFullDay:
		return "Full day"
	default:
		return string(tripType)
	}
}

func formatDollars(amount booking.AmountCents) string {
	cents := amount.Int64()
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/dollarsDivisor, cents%dollarsDivisor)
}
