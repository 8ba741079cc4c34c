/*
Package core provides session memory management for the agentchat application.

This file implements a thread-safe, in-memory store of conversation sessions.
Each session carries the identifier sent to the remote agent runtime, the
endpoint and region selected for it, and its append-only message history.
Idle sessions are removed by a background cleanup loop.
*/
package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ChatMessage represents a single message in a conversation between user and assistant.
type ChatMessage struct {
	Role      string    `json:"role"`      // Message sender: "user" or "assistant"
	Content   string    `json:"content"`   // The message text
	Timestamp time.Time `json:"timestamp"` // When the message was appended
}

// ChatSession is one conversation. Messages are only ever appended; Reset
// starts a new conversation under a new identifier.
type ChatSession struct {
	ID         string        `json:"id"`         // Identifier sent to the agent runtime
	EndpointID string        `json:"endpointId"` // Selected agent endpoint
	Region     string        `json:"region"`     // Region for agent and storage calls
	Messages   []ChatMessage `json:"messages"`   // Ordered conversation history
	Created    time.Time     `json:"created"`
	Updated    time.Time     `json:"updated"`
	mutex      sync.RWMutex
}

// SessionSnapshot is a copy of a session safe to serialize.
type SessionSnapshot struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpointId"`
	Region       string        `json:"region"`
	Created      time.Time     `json:"created"`
	Updated      time.Time     `json:"updated"`
	MessageCount int           `json:"messageCount"`
	Messages     []ChatMessage `json:"messages,omitempty"`
}

// MemoryStore manages chat sessions keyed by their current identifier.
type MemoryStore struct {
	sessions        map[string]*ChatSession
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	defaultRegion   string
	logger          *logrus.Logger
	done            chan struct{}
	closeOnce       sync.Once
}

// NewMemoryStore creates a store and starts its cleanup loop. Call Close to stop it.
//
// Parameters:
//   - maxAge: idle time after which a session is removed
//   - cleanupInterval: how often expired sessions are looked for
//   - defaultRegion: region assigned to sessions created without one
//   - logger: logger for lifecycle events
func NewMemoryStore(maxAge, cleanupInterval time.Duration, defaultRegion string, logger *logrus.Logger) *MemoryStore {
	store := &MemoryStore{
		sessions:        make(map[string]*ChatSession),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		defaultRegion:   defaultRegion,
		logger:          logger,
		done:            make(chan struct{}),
	}

	go store.cleanupExpiredSessions()

	return store
}

// NewSessionID returns a 41-character identifier: a UUID followed by the first
// five characters of a second UUID. The agent runtime requires at least 33.
func NewSessionID() string {
	return uuid.NewString() + uuid.NewString()[:5]
}

// GetOrCreateSession retrieves an existing session or creates a new one.
// An empty sessionID always creates a session with a fresh identifier.
func (m *MemoryStore) GetOrCreateSession(sessionID string) *ChatSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if sessionID == "" {
		sessionID = NewSessionID()
	}

	session, exists := m.sessions[sessionID]
	if !exists {
		now := time.Now()
		session = &ChatSession{
			ID:       sessionID,
			Region:   m.defaultRegion,
			Messages: make([]ChatMessage, 0),
			Created:  now,
			Updated:  now,
		}
		m.sessions[sessionID] = session
		m.logger.WithField("sessionID", sessionID).Info("Created new chat session")
	} else {
		session.touch()
	}

	return session
}

// GetSession retrieves an existing session without creating one.
func (m *MemoryStore) GetSession(sessionID string) (*ChatSession, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	session, exists := m.sessions[sessionID]
	if exists {
		session.touch()
	}
	return session, exists
}

// DeleteSession removes a session. It reports whether the session existed.
func (m *MemoryStore) DeleteSession(sessionID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
		m.logger.WithField("sessionID", sessionID).Info("Session deleted")
	}
	return exists
}

// ResetSession clears the history of a session and moves it to a new
// identifier, so the agent runtime starts a fresh conversation. It returns the
// new identifier and the number of cleared messages.
func (m *MemoryStore) ResetSession(sessionID string) (string, int, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return "", 0, false
	}

	newID := NewSessionID()
	session.mutex.Lock()
	cleared := len(session.Messages)
	session.ID = newID
	session.Messages = make([]ChatMessage, 0)
	session.Updated = time.Now()
	session.mutex.Unlock()

	delete(m.sessions, sessionID)
	m.sessions[newID] = session

	m.logger.WithFields(logrus.Fields{
		"previousSessionID": sessionID,
		"sessionID":         newID,
		"clearedMessages":   cleared,
	}).Info("Session reset")
	return newID, cleared, true
}

// GetAllSessions returns snapshots of all sessions without their messages.
func (m *MemoryStore) GetAllSessions() []SessionSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	sessions := make([]SessionSnapshot, 0, len(m.sessions))
	for _, session := range m.sessions {
		snapshot := session.Snapshot()
		snapshot.Messages = nil
		sessions = append(sessions, snapshot)
	}
	return sessions
}

// Close stops the cleanup loop.
func (m *MemoryStore) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// AddMessage appends a message to the conversation history.
func (s *ChatSession) AddMessage(role, content string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Messages = append(s.Messages, ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.Updated = time.Now()
}

// SelectEndpoint records the endpoint and, when non-empty, the region used for the next turns.
func (s *ChatSession) SelectEndpoint(endpointID, region string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if endpointID != "" {
		s.EndpointID = endpointID
	}
	if region != "" {
		s.Region = region
	}
	s.Updated = time.Now()
}

// Target returns the identifier, endpoint and region of the session.
func (s *ChatSession) Target() (sessionID, endpointID, region string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.ID, s.EndpointID, s.Region
}

// GetRecentMessages returns up to limit of the latest messages, oldest first.
func (s *ChatSession) GetRecentMessages(limit int) []ChatMessage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	start := 0
	if limit >= 0 && len(s.Messages) > limit {
		start = len(s.Messages) - limit
	}
	messages := make([]ChatMessage, len(s.Messages)-start)
	copy(messages, s.Messages[start:])
	return messages
}

// Snapshot copies the session, including its messages.
func (s *ChatSession) Snapshot() SessionSnapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	messages := make([]ChatMessage, len(s.Messages))
	copy(messages, s.Messages)
	return SessionSnapshot{
		ID:           s.ID,
		EndpointID:   s.EndpointID,
		Region:       s.Region,
		Created:      s.Created,
		Updated:      s.Updated,
		MessageCount: len(s.Messages),
		Messages:     messages,
	}
}

func (s *ChatSession) touch() {
	s.mutex.Lock()
	s.Updated = time.Now()
	s.mutex.Unlock()
}

func (s *ChatSession) lastUpdated() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Updated
}

// cleanupExpiredSessions runs until Close, removing sessions idle for longer than maxAge.
func (m *MemoryStore) cleanupExpiredSessions() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.removeExpired(time.Now())
		}
	}
}

func (m *MemoryStore) removeExpired(now time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	expired := 0
	for id, session := range m.sessions {
		if now.Sub(session.lastUpdated()) > m.maxAge {
			delete(m.sessions, id)
			expired++
		}
	}

	if expired > 0 {
		m.logger.WithFields(logrus.Fields{
			"expiredSessions":   expired,
			"remainingSessions": len(m.sessions),
		}).Info("Cleaned up expired chat sessions")
	}
	return expired
}

// GetSessionStats returns session and message counts.
func (m *MemoryStore) GetSessionStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	totalMessages := 0
	for _, session := range m.sessions {
		session.mutex.RLock()
		totalMessages += len(session.Messages)
		session.mutex.RUnlock()
	}

	return map[string]interface{}{
		"totalSessions": len(m.sessions),
		"totalMessages": totalMessages,
	}
}
