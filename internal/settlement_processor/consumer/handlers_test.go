package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockSignatureProcessor struct {
	mock.Mock
}

func (m *MockSignatureProcessor) ProcessSignature(ctx context.Context, signature string, source deposits.Source) (deposits.Result, error) {
	args := m.Called(ctx, signature, source)
	return args.Get(0).(deposits.Result), args.Error(1)
}

type MockPayoutOperator struct {
	mock.Mock
}

func (m *MockPayoutOperator) ApprovePayoutJob(ctx context.Context, jobID uuid.UUID, adminID string) error {
	return m.Called(ctx, jobID, adminID).Error(0)
}

func (m *MockPayoutOperator) RejectPayoutJob(ctx context.Context, jobID uuid.UUID, adminID, reason string) error {
	return m.Called(ctx, jobID, adminID, reason).Error(0)
}

type MockDLQ struct {
	mock.Mock
}

func (m *MockDLQ) PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error {
	return m.Called(ctx, key, originalMessageValue, reason).Error(0)
}

func (m *MockDLQ) Close() error {
	return m.Called().Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestChainNotificationHandler_HandleMessage(t *testing.T) {
	ctx := context.Background()
	key := []byte("sigA")
	rpcErr := shared.TransientInfraError{Op: "get transaction sigA", Err: errors.New("timeout")}

	tests := []struct {
		name     string
		value    []byte
		setup    func(r *MockSignatureProcessor, d *MockDLQ)
		wantErr  error
		parked   bool
		anyError bool
	}{
		{
			name:  "credited",
			value: mustJSON(t, shared.ChainNotification{Signature: "sigA", Address: "Treasury"}),
			setup: func(r *MockSignatureProcessor, _ *MockDLQ) {
				r.On("ProcessSignature", ctx, "sigA", deposits.SourcePush).Return(deposits.ResultCredited, nil).Once()
			},
		},
		{
			name:  "foreign address ignored",
			value: mustJSON(t, shared.ChainNotification{Signature: "sigA", Address: "DestB"}),
		},
		{
			name:  "malformed json parked",
			value: []byte("{not json"),
			setup: func(_ *MockSignatureProcessor, d *MockDLQ) {
				d.On("PublishToDLQ", ctx, "sigA", []byte("{not json"), mock.AnythingOfType("string")).Return(nil).Once()
			},
			parked: true,
		},
		{
			name:  "missing signature parked",
			value: mustJSON(t, shared.ChainNotification{Address: "Treasury"}),
			setup: func(_ *MockSignatureProcessor, d *MockDLQ) {
				d.On("PublishToDLQ", ctx, "sigA", mock.Anything, mock.MatchedBy(func(reason string) bool {
					return reason == "invalid chain notification: invalid signature: required"
				})).Return(nil).Once()
			},
			parked: true,
		},
		{
			name:  "transient error retried",
			value: mustJSON(t, shared.ChainNotification{Signature: "sigA"}),
			setup: func(r *MockSignatureProcessor, _ *MockDLQ) {
				r.On("ProcessSignature", ctx, "sigA", deposits.SourcePush).Return(deposits.Result(""), rpcErr).Once()
			},
			wantErr: rpcErr,
		},
		{
			name:  "dlq failure keeps message",
			value: []byte("garbage"),
			setup: func(_ *MockSignatureProcessor, d *MockDLQ) {
				d.On("PublishToDLQ", ctx, "sigA", mock.Anything, mock.Anything).Return(errors.New("dlq down")).Once()
			},
			anyError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reconciler := new(MockSignatureProcessor)
			dlq := new(MockDLQ)
			if tt.setup != nil {
				tt.setup(reconciler, dlq)
			}
			h := NewChainNotificationHandler(testLogger(), reconciler, dlq, "Treasury")

			err := h.HandleMessage(ctx, key, tt.value)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, shared.IsRetryable(err))
			case tt.anyError:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
			reconciler.AssertExpectations(t)
			dlq.AssertExpectations(t)
			if !tt.parked && !tt.anyError {
				dlq.AssertNotCalled(t, "PublishToDLQ", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestChainNotificationHandler_NoDLQ(t *testing.T) {
	h := NewChainNotificationHandler(testLogger(), new(MockSignatureProcessor), nil, "Treasury")
	assert.Error(t, h.HandleMessage(context.Background(), nil, []byte("garbage")), "without a DLQ the offset stays uncommitted")
}

func TestOperatorCommandHandler_HandleMessage(t *testing.T) {
	ctx := context.Background()
	jobID := uuid.New()
	key := []byte(jobID.String())
	dbErr := errors.New("connection reset")

	tests := []struct {
		name    string
		cmd     any
		setup   func(o *MockPayoutOperator, d *MockDLQ)
		wantErr bool
	}{
		{
			name: "approve",
			cmd:  shared.OperatorCommand{Command: shared.OperatorCommandApprove, JobID: jobID, AdminID: "Admin"},
			setup: func(o *MockPayoutOperator, _ *MockDLQ) {
				o.On("ApprovePayoutJob", ctx, jobID, "Admin").Return(nil).Once()
			},
		},
		{
			name: "reject",
			cmd:  shared.OperatorCommand{Command: shared.OperatorCommandReject, JobID: jobID, AdminID: "Admin", Reason: "kyc"},
			setup: func(o *MockPayoutOperator, _ *MockDLQ) {
				o.On("RejectPayoutJob", ctx, jobID, "Admin", "kyc").Return(nil).Once()
			},
		},
		{
			name: "job not awaiting approval parked",
			cmd:  shared.OperatorCommand{Command: shared.OperatorCommandApprove, JobID: jobID, AdminID: "Admin"},
			setup: func(o *MockPayoutOperator, d *MockDLQ) {
				o.On("ApprovePayoutJob", ctx, jobID, "Admin").Return(shared.ValidationError{Field: "status", Reason: "completed"}).Once()
				d.On("PublishToDLQ", ctx, jobID.String(), mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
		{
			name: "unknown job parked",
			cmd:  shared.OperatorCommand{Command: shared.OperatorCommandReject, JobID: jobID, AdminID: "Admin"},
			setup: func(o *MockPayoutOperator, d *MockDLQ) {
				o.On("RejectPayoutJob", ctx, jobID, "Admin", "").Return(fmt.Errorf("%w: job", shared.ErrNotFound)).Once()
				d.On("PublishToDLQ", ctx, jobID.String(), mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
		{
			name: "unknown command parked",
			cmd:  shared.OperatorCommand{Command: "pause", JobID: jobID, AdminID: "Admin"},
			setup: func(_ *MockPayoutOperator, d *MockDLQ) {
				d.On("PublishToDLQ", ctx, jobID.String(), mock.Anything, mock.MatchedBy(func(reason string) bool {
					return reason == `operator command rejected: invalid command: unknown command "pause"`
				})).Return(nil).Once()
			},
		},
		{
			name: "missing job id parked",
			cmd:  map[string]string{"command": "approve", "admin_id": "Admin"},
			setup: func(_ *MockPayoutOperator, d *MockDLQ) {
				d.On("PublishToDLQ", ctx, jobID.String(), mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
		{
			name: "infrastructure error retried",
			cmd:  shared.OperatorCommand{Command: shared.OperatorCommandApprove, JobID: jobID, AdminID: "Admin"},
			setup: func(o *MockPayoutOperator, _ *MockDLQ) {
				o.On("ApprovePayoutJob", ctx, jobID, "Admin").Return(dbErr).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operator := new(MockPayoutOperator)
			dlq := new(MockDLQ)
			tt.setup(operator, dlq)
			h := NewOperatorCommandHandler(testLogger(), operator, dlq)

			err := h.HandleMessage(ctx, key, mustJSON(t, tt.cmd))
			if tt.wantErr {
				assert.ErrorIs(t, err, dbErr)
			} else {
				assert.NoError(t, err)
			}
			operator.AssertExpectations(t)
			dlq.AssertExpectations(t)
		})
	}
}
