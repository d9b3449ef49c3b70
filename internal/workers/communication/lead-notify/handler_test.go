package leadnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/lead"
	"churn-calc/internal/narrative"
	"churn-calc/internal/session"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Notifier
// ==========================

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, l *lead.Lead, analysis *narrative.Analysis) (*lead.Notification, error) {
	args := m.Called(ctx, l, analysis)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lead.Notification), args.Error(1)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "churn-lead-process",
		ElementId:          "Activity_LeadNotify",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func createValidInput() *Input {
	return &Input{
		SessionID:     "session-1",
		CalculationID: "calc-1",
		Contact:       session.Contact{FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.co"},
		ChurnInputs: calculator.CalculatorInputs{
			AverageOrderValue: 100,
			NumberOfCustomers: 1000,
			PurchaseFrequency: 2,
			ChurnRate:         75,
		},
	}
}

func newTestHandler(t *testing.T, notifier Notifier) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Notifier:     notifier,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

// ==========================
// Tests
// ==========================

func TestHandler_NewHandlerRequiresNotifier(t *testing.T) {
	_, err := NewHandler(HandlerOptions{Logger: logger.NewTestLogger(t)})
	assert.ErrorContains(t, err, "requires a notifier")
}

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, &MockNotifier{})
	valid := createValidInput()

	input, err := h.parseInput(createMockJob(1, map[string]interface{}{
		"contact":     valid.Contact,
		"churnInputs": valid.ChurnInputs,
		"narrative":   map[string]interface{}{"headline": "H", "source": "fallback"},
	}))
	require.NoError(t, err)
	require.NotNil(t, input.Narrative)
	assert.Equal(t, "H", input.Narrative.Headline)

	input, err = h.parseInput(createMockJob(2, map[string]interface{}{
		"contact":     valid.Contact,
		"churnInputs": valid.ChurnInputs,
	}))
	require.NoError(t, err)
	assert.Nil(t, input.Narrative)

	_, err = h.parseInput(createMockJob(3, map[string]interface{}{"contact": valid.Contact}))
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

func TestHandler_Execute(t *testing.T) {
	analysis := &narrative.Analysis{Headline: "H"}
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(l *lead.Lead) bool {
		return l.Contact.Email == "ada@acme.co" && l.Profile.ChurnSeverity == calculator.ChurnCritical
	}), analysis).Return(&lead.Notification{
		LeadEmailed: true, EmailMessageID: "ses-1",
		SalesAlerted: true, AlertMessageID: "sns-1",
	}, nil)

	input := createValidInput()
	input.Narrative = analysis
	output, err := newTestHandler(t, notifier).Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, &Output{LeadEmailed: true, SalesAlerted: true, EmailMessageID: "ses-1", AlertMessageID: "sns-1"}, output)
	notifier.AssertExpectations(t)
}

func TestHandler_Execute_Failures(t *testing.T) {
	sendErr := errors.NewNotificationSendFailedError("email", fmt.Errorf("throttled"))

	tests := []struct {
		name         string
		notification *lead.Notification
		wantErr      bool
		wantAlerted  bool
	}{
		{name: "nothing delivered", notification: &lead.Notification{}, wantErr: true},
		{name: "nil notification", notification: nil, wantErr: true},
		{name: "alert delivered but email failed", notification: &lead.Notification{SalesAlerted: true, AlertMessageID: "sns-1"}, wantAlerted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &MockNotifier{}
			notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(tt.notification, sendErr)

			output, err := newTestHandler(t, notifier).Execute(context.Background(), createValidInput())
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrCodeNotificationSendFailed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlerted, output.SalesAlerted)
			assert.False(t, output.LeadEmailed)
		})
	}
}

func TestHandler_Execute_InvalidLead(t *testing.T) {
	notifier := &MockNotifier{}
	input := createValidInput()
	input.Contact.Email = "not-an-email"

	_, err := newTestHandler(t, notifier).Execute(context.Background(), input)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}
