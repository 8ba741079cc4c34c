/*
Package core provides turn cancellation for the agentchat application.

A turn in flight can be stopped by the user. Stopping cancels the turn's
context: the chunk stream ends, the one-shot fallback is skipped and the turn
is recorded with an error message, so session history stays consistent.
*/
package core

import (
	"context"
	"sync"
	"time"
)

// Execution describes one running turn.
type Execution struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Started   time.Time `json:"started"`
	cancel    context.CancelFunc
}

// CancelManager tracks running turns and their cancellation functions.
type CancelManager struct {
	executions map[string]*Execution
	mutex      sync.RWMutex
}

// NewCancelManager creates an empty manager.
func NewCancelManager() *CancelManager {
	return &CancelManager{
		executions: make(map[string]*Execution),
	}
}

// AddExecution registers a running turn.
func (cm *CancelManager) AddExecution(executionID, sessionID string, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.executions[executionID] = &Execution{
		ID:        executionID,
		SessionID: sessionID,
		Started:   time.Now(),
		cancel:    cancel,
	}
}

// RemoveExecution forgets a finished turn.
func (cm *CancelManager) RemoveExecution(executionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.executions, executionID)
}

// CancelExecution cancels a running turn. It returns false when the turn is
// unknown or already finished.
func (cm *CancelManager) CancelExecution(executionID string) bool {
	cm.mutex.Lock()
	execution, exists := cm.executions[executionID]
	delete(cm.executions, executionID)
	cm.mutex.Unlock()

	if exists {
		execution.cancel()
	}
	return exists
}

// GetActiveExecutions lists the running turns.
func (cm *CancelManager) GetActiveExecutions() []Execution {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	executions := make([]Execution, 0, len(cm.executions))
	for _, execution := range cm.executions {
		executions = append(executions, Execution{
			ID:        execution.ID,
			SessionID: execution.SessionID,
			Started:   execution.Started,
		})
	}
	return executions
}
