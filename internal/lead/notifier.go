package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/aws"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/metrics"
	"churn-calc/internal/narrative"
)

const DefaultReportSubject = "Your churn cost report"

type NotifierConfig struct {
	FromEmail     string
	ReportSubject string
	SalesTopicARN string
	NotifyLead    bool
	AlertSales    bool
}

// Notifier emails the results report to the lead and alerts sales about
// high value leads. Either client may be nil to disable that channel.
type Notifier struct {
	email     aws.EmailSender
	publisher aws.Publisher
	config    NotifierConfig
	logger    logger.Logger
}

type Notification struct {
	LeadEmailed    bool   `json:"leadEmailed"`
	EmailMessageID string `json:"emailMessageId,omitempty"`
	SalesAlerted   bool   `json:"salesAlerted"`
	AlertMessageID string `json:"alertMessageId,omitempty"`
}

func NewNotifier(email aws.EmailSender, publisher aws.Publisher, config NotifierConfig, log logger.Logger) *Notifier {
	if config.ReportSubject == "" {
		config.ReportSubject = DefaultReportSubject
	}
	return &Notifier{
		email:     email,
		publisher: publisher,
		config:    config,
		logger:    log,
	}
}

// ShouldAlertSales reports whether a lead warrants a sales alert.
func ShouldAlertSales(p calculator.StoreProfile) bool {
	return p.SizeCategory == calculator.SizeEnterprise || p.ChurnSeverity == calculator.ChurnCritical
}

// Notify sends the report and the alert. analysis may be nil. Both
// channels are attempted; the first error is returned.
func (n *Notifier) Notify(ctx context.Context, l *Lead, analysis *narrative.Analysis) (*Notification, error) {
	result := &Notification{}
	var firstErr error

	if n.config.NotifyLead && n.email != nil {
		id, err := n.sendReport(ctx, l, analysis)
		record("email", err)
		if err != nil {
			firstErr = errors.NewNotificationSendFailedError("email", err)
		} else {
			result.LeadEmailed = true
			result.EmailMessageID = id
		}
	}

	if n.config.AlertSales && n.publisher != nil && ShouldAlertSales(l.Profile) {
		id, err := n.alertSales(ctx, l)
		record("sns", err)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.NewNotificationSendFailedError("sales_alert", err)
			}
		} else {
			result.SalesAlerted = true
			result.AlertMessageID = id
		}
	}

	if firstErr != nil {
		n.logger.Warn("Lead notification incomplete", map[string]interface{}{
			"leadId": l.ID,
			"error":  firstErr.Error(),
		})
	}
	return result, firstErr
}

func record(channel string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.NotificationsSent.WithLabelValues(channel, status).Inc()
}

func (n *Notifier) sendReport(ctx context.Context, l *Lead, analysis *narrative.Analysis) (string, error) {
	md := ReportMarkdown(l, analysis)
	html, err := narrative.RenderHTML(md)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	out, err := n.email.SendEmail(ctx, aws.NewEmail(n.config.FromEmail, l.Contact.Email, n.config.ReportSubject, html, md))
	if err != nil {
		return "", err
	}
	if out == nil || out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// ReportMarkdown is the body of the results email.
func ReportMarkdown(l *Lead, analysis *narrative.Analysis) string {
	res := l.Results
	var b strings.Builder

	fmt.Fprintf(&b, "Hi %s,\n\nHere is the churn cost report you requested.\n\n", narrative.EscapeMarkdown(l.Contact.FirstName))
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Revenue lost per year | %s |\n", narrative.FormatCurrency(res.AnnualRevenueLost))
	fmt.Fprintf(&b, "| Revenue lost per month | %s |\n", narrative.FormatCurrency(res.MonthlyRevenueLost))
	fmt.Fprintf(&b, "| 3 year impact | %s |\n", narrative.FormatCurrency(res.ThreeYearImpact))
	fmt.Fprintf(&b, "| 5 year impact | %s |\n", narrative.FormatCurrency(res.FiveYearImpact))
	fmt.Fprintf(&b, "| Customers lost per year | %s |\n", narrative.FormatCount(res.CustomersLostPerYear))
	fmt.Fprintf(&b, "| Average customer lifespan | %.1f years |\n", res.CustomerLifespan)

	if len(res.ChurnReductionScenarios) > 0 {
		b.WriteString("\n### What reducing churn is worth\n\n")
		for _, s := range res.ChurnReductionScenarios {
			fmt.Fprintf(&b, "- %.0f%% less churn: %s a year, %s over 3 years\n",
				s.ReductionPercentage, narrative.FormatCurrency(s.AnnualSavings), narrative.FormatCurrency(s.ThreeYearSavings))
		}
	}

	if analysis != nil {
		b.WriteString("\n")
		b.WriteString(narrative.ToMarkdown(analysis))
	}
	return b.String()
}

type salesAlert struct {
	LeadID            string  `json:"leadId"`
	Email             string  `json:"email"`
	Name              string  `json:"name"`
	CompanyName       string  `json:"companyName,omitempty"`
	Website           string  `json:"website,omitempty"`
	SizeCategory      string  `json:"sizeCategory"`
	ChurnSeverity     string  `json:"churnSeverity"`
	NumberOfCustomers float64 `json:"numberOfCustomers"`
	ChurnRate         float64 `json:"churnRate"`
	AnnualRevenueLost float64 `json:"annualRevenueLost"`
}

func (n *Notifier) alertSales(ctx context.Context, l *Lead) (string, error) {
	message, err := json.Marshal(salesAlert{
		LeadID:            l.ID,
		Email:             l.Contact.Email,
		Name:              strings.TrimSpace(l.Contact.FirstName + " " + l.Contact.LastName),
		CompanyName:       l.Contact.CompanyName,
		Website:           l.Contact.Website,
		SizeCategory:      string(l.Profile.SizeCategory),
		ChurnSeverity:     string(l.Profile.ChurnSeverity),
		NumberOfCustomers: l.Inputs.NumberOfCustomers,
		ChurnRate:         l.Inputs.ChurnRate,
		AnnualRevenueLost: l.Results.AnnualRevenueLost,
	})
	if err != nil {
		return "", err
	}

	company := l.Contact.CompanyName
	if company == "" {
		company = l.EmailDomain()
	}
	subject := fmt.Sprintf("High value churn lead: %s (%s)", company, narrative.FormatCurrency(l.Results.AnnualRevenueLost))

	out, err := n.publisher.Publish(ctx, aws.NewTopicMessage(n.config.SalesTopicARN, subject, string(message), map[string]string{
		"sizeCategory":  string(l.Profile.SizeCategory),
		"churnSeverity": string(l.Profile.ChurnSeverity),
	}))
	if err != nil {
		return "", err
	}
	if out == nil || out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}
