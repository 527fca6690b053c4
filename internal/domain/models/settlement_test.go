package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchStatusTransitions(t *testing.T) {
	tests := []struct {
		from    BatchStatus
		to      BatchStatus
		allowed bool
	}{
		{BatchComputed, BatchApproved, true},
		{BatchComputed, BatchRejected, true},
		{BatchComputed, BatchExecuted, false},
		{BatchApproved, BatchExecuting, true},
		{BatchApproved, BatchExecuted, false},
		{BatchApproved, BatchFailed, false},
		{BatchApproved, BatchComputed, false},
		{BatchExecuting, BatchExecuted, true},
		{BatchExecuting, BatchFailed, true},
		{BatchExecuting, BatchApproved, true},
		{BatchRejected, BatchApproved, false},
		{BatchExecuted, BatchFailed, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestBatchTerminalStatuses(t *testing.T) {
	assert.True(t, BatchExecuted.IsTerminal())
	assert.True(t, BatchRejected.IsTerminal())
	assert.True(t, BatchFailed.IsTerminal())
	assert.False(t, BatchComputed.IsTerminal())
	assert.False(t, BatchApproved.IsTerminal())
	assert.False(t, BatchExecuting.IsTerminal())
}

func TestHasApprover(t *testing.T) {
	batch := &SettlementBatch{
		ID: "batch-1",
		Approvals: []BatchApproval{
			{BatchID: "batch-1", ApproverID: "ops-1"},
			{BatchID: "batch-1", ApproverID: "ops-2"},
		},
	}

	assert.True(t, batch.HasApprover("ops-1"))
	assert.False(t, batch.HasApprover("ops-3"))
	assert.False(t, (&SettlementBatch{}).HasApprover("ops-1"))
}
