package lead

import (
	"context"
	"testing"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/narrative"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: awssdk.String("ses-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: awssdk.String("sns-1")}, nil
}

func notifierConfig() NotifierConfig {
	return NotifierConfig{
		FromEmail:     "reports@churncalc.io",
		SalesTopicARN: "arn:aws:sns:us-east-1:123456789012:sales-leads",
		NotifyLead:    true,
		AlertSales:    true,
	}
}

func TestShouldAlertSales(t *testing.T) {
	assert.True(t, ShouldAlertSales(calculator.StoreProfile{SizeCategory: calculator.SizeEnterprise, ChurnSeverity: calculator.ChurnGood}))
	assert.True(t, ShouldAlertSales(calculator.StoreProfile{SizeCategory: calculator.SizeSmall, ChurnSeverity: calculator.ChurnCritical}))
	assert.False(t, ShouldAlertSales(calculator.StoreProfile{SizeCategory: calculator.SizeLarge, ChurnSeverity: calculator.ChurnConcerning}))
}

func TestNotifier_EmailsReportAndAlertsSales(t *testing.T) {
	email, alerts := &fakeSES{}, &fakeSNS{}
	n := NewNotifier(email, alerts, notifierConfig(), logger.NewNoOpLogger())

	analysis := &narrative.Analysis{Headline: "Churn is costly", Summary: "Act now.", Recommendations: []string{"Win back lapsed buyers"}}
	result, err := n.Notify(context.Background(), createTestLead(), analysis)
	require.NoError(t, err)

	assert.True(t, result.LeadEmailed)
	assert.Equal(t, "ses-1", result.EmailMessageID)
	assert.True(t, result.SalesAlerted)
	assert.Equal(t, "sns-1", result.AlertMessageID)

	require.NotNil(t, email.input)
	assert.Equal(t, []string{"Ada@Acme.co"}, email.input.Destination.ToAddresses)
	assert.Equal(t, DefaultReportSubject, *email.input.Message.Subject.Data)
	html := *email.input.Message.Body.Html.Data
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "$150,000")
	assert.Contains(t, html, "Churn is costly")
	assert.Contains(t, *email.input.Message.Body.Text.Data, "Win back lapsed buyers")

	require.NotNil(t, alerts.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:sales-leads", *alerts.input.TopicArn)
	assert.Contains(t, *alerts.input.Subject, "Acme")
	assert.Equal(t, "critical", *alerts.input.MessageAttributes["churnSeverity"].StringValue)
	assert.Contains(t, *alerts.input.Message, `"annualRevenueLost":150000`)
}

func TestNotifier_SkipsAlertForOrdinaryLead(t *testing.T) {
	alerts := &fakeSNS{}
	n := NewNotifier(nil, alerts, notifierConfig(), logger.NewNoOpLogger())

	l := createTestLead()
	l.Profile = calculator.StoreProfile{SizeCategory: calculator.SizeMedium, ChurnSeverity: calculator.ChurnModerate}

	result, err := n.Notify(context.Background(), l, nil)
	require.NoError(t, err)
	assert.False(t, result.LeadEmailed)
	assert.False(t, result.SalesAlerted)
	assert.Nil(t, alerts.input)
}

func TestNotifier_EmailFailureStillAlerts(t *testing.T) {
	email, alerts := &fakeSES{err: assert.AnError}, &fakeSNS{}
	n := NewNotifier(email, alerts, notifierConfig(), logger.NewNoOpLogger())

	result, err := n.Notify(context.Background(), createTestLead(), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotificationSendFailed))
	assert.False(t, result.LeadEmailed)
	assert.True(t, result.SalesAlerted)
}

func TestReportMarkdown(t *testing.T) {
	md := ReportMarkdown(createTestLead(), nil)
	assert.Contains(t, md, "Hi Ada,")
	assert.Contains(t, md, "| Revenue lost per year | $150,000 |")
	assert.Contains(t, md, "- 25% less churn: $37,500 a year, $112,500 over 3 years")
}

func TestReportMarkdown_VisitorTextIsLiteral(t *testing.T) {
	l := createTestLead()
	l.Contact.FirstName = "[Verify your account](https://evil.example/login)"

	html, err := narrative.RenderHTML(ReportMarkdown(l, nil))
	require.NoError(t, err)

	assert.NotContains(t, html, "<a")
	assert.Contains(t, html, "Hi [Verify your account](https://evil.example/login),")
}
