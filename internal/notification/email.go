// Package notification delivers alert notifications to the control room
// by email.
package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/alerting"
	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/pkg/config"
)

var funcs = template.FuncMap{
	"upper": func(v interface{}) string { return strings.ToUpper(fmt.Sprint(v)) },
	"pct":   func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"join":  strings.Join,
	"time":  func(t time.Time) string { return t.UTC().Format(time.RFC1123) },
}

var raisedTemplate = template.Must(template.New("raised").Funcs(funcs).Parse(`
{{.Alert.Title}}
{{upper .Alert.Severity}} {{upper .Alert.Type}} ALERT ({{.Alert.Escalation.Type}})

Alert ID: {{.Alert.AlertID}}
Location: {{with .Alert.Location.District}}{{.}}{{else}}{{.Alert.Location.Latitude}}, {{.Alert.Location.Longitude}}{{end}}{{with .Alert.Location.State}}, {{.}}{{end}}
Affected Areas: {{join .Alert.Location.AffectedAreas ", "}}
Issued: {{time .Alert.Timestamp}}
Expires: {{time .Alert.Expires}}
{{- with .Alert.Escalation.PreviousAlertID}}
Supersedes: {{.}}
{{- end}}

SMS: {{.Alert.SMSPayload}}

{{.Alert.Description}}

Flood probability: {{pct .Alert.Metrics.FloodProbability}}
Confidence: {{pct .Alert.Metrics.Confidence}}
Anomaly score: {{printf "%.2f" .Alert.Metrics.AnomalyScore}}
Conditions met: {{.Alert.Metrics.ConditionsMet}}

Instructions:
{{range .Alert.Instructions}}  {{.Priority}}. {{.Icon}} {{.Action}}
{{end}}
Analysis: {{.Alert.AIReasoning}}

---
Floodwatch Notification System
`))

var clearedTemplate = template.Must(template.New("cleared").Funcs(funcs).Parse(`
Flood Alert Cleared
===================

Alert ID: {{.Alert.AlertID}}
Location: {{with .Alert.Location.District}}{{.}}{{else}}{{.Alert.Location.Latitude}}, {{.Alert.Location.Longitude}}{{end}}
Severity: {{upper .Alert.Severity}}
Issued: {{time .Alert.Timestamp}}
{{- with .Alert.ClearedAt}}
Cleared: {{time .}}
{{- end}}

The {{.Alert.Type}} alert for this location is no longer active.

---
Floodwatch Notification System
`))

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.SMTPConfig
	logger *zap.Logger
	send   sendFunc
	now    func() time.Time
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{
		config: cfg,
		logger: logger,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// SendAlertNotification emails raised and cleared alerts. Acknowledgements
// are not mailed.
func (e *EmailNotifier) SendAlertNotification(n *protocol.AlertNotification) error {
	subject, body, err := Render(n)
	if err != nil {
		return err
	}
	if subject == "" {
		e.logger.Debug("notification not mailed", zap.String("type", n.Type), zap.String("alert_id", n.Alert.AlertID))
		return nil
	}
	return e.sendEmail(subject, body)
}

// Render returns the subject and body of the email for n. Both are empty
// for notification types that are not mailed.
func Render(n *protocol.AlertNotification) (string, string, error) {
	var (
		subject string
		tmpl    *template.Template
	)

	switch n.Type {
	case protocol.AlertTypeRaised:
		subject = fmt.Sprintf("%s - %s [%s]", n.Alert.Title, place(n.Alert), strings.ToUpper(string(n.Alert.Severity)))
		tmpl = raisedTemplate
	case protocol.AlertTypeCleared:
		subject = fmt.Sprintf("✅ Flood Alert CLEARED - %s", place(n.Alert))
		tmpl = clearedTemplate
	case protocol.AlertTypeAcknowledged:
		return "", "", nil
	default:
		return "", "", fmt.Errorf("unknown notification type: %s", n.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return "", "", fmt.Errorf("failed to render email template: %w", err)
	}
	return subject, buf.String(), nil
}

func place(a alerting.Alert) string {
	if a.Location.District != "" {
		return a.Location.District
	}
	return a.Location.Key()
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	if !e.config.Configured() {
		e.logger.Info("SMTP not configured, skipping email",
			zap.String("subject", subject),
			zap.String("body", body))
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", e.now().Format(time.RFC1123Z))
	message += "MIME-Version: 1.0\r\n"
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", zap.String("subject", subject))
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if !e.config.Configured() {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
