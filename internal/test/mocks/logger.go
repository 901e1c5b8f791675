// Package mocks holds test doubles shared across packages.
package mocks

import (
	"fmt"
	"strings"
	"sync"
)

// MockLogger records log calls for assertions. It satisfies agent.Logger.
type MockLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
}

type LogMessage struct {
	Level   string
	Message string
	Fields  []interface{}
}

// Field returns the value logged under key, if present.
func (l LogMessage) Field(key string) (interface{}, bool) {
	for i := 0; i+1 < len(l.Fields); i += 2 {
		if k, ok := l.Fields[i].(string); ok && k == key {
			return l.Fields[i+1], true
		}
	}
	return nil, false
}

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, fields ...interface{}) { m.log("DEBUG", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...interface{})  { m.log("INFO", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...interface{})  { m.log("WARN", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...interface{}) { m.log("ERROR", msg, fields) }

func (m *MockLogger) log(level, msg string, fields []interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, LogMessage{Level: level, Message: msg, Fields: fields})
}

// GetMessages returns a copy of all logged messages
func (m *MockLogger) GetMessages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogMessage{}, m.Messages...)
}

// GetMessagesByLevel returns messages for a specific log level
func (m *MockLogger) GetMessagesByLevel(level string) []LogMessage {
	var filtered []LogMessage
	for _, msg := range m.GetMessages() {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// HasMessage checks if a specific message was logged at level
func (m *MockLogger) HasMessage(level, message string) bool {
	_, ok := m.Find(level, message)
	return ok
}

// Find returns the first message logged at level with the given text.
func (m *MockLogger) Find(level, message string) (LogMessage, bool) {
	for _, msg := range m.GetMessages() {
		if msg.Level == level && msg.Message == message {
			return msg, true
		}
	}
	return LogMessage{}, false
}

func (m *MockLogger) String() string {
	var b strings.Builder
	for _, msg := range m.GetMessages() {
		fmt.Fprintf(&b, "[%s] %s", msg.Level, msg.Message)
		if len(msg.Fields) > 0 {
			fmt.Fprintf(&b, " %v", msg.Fields)
		}
		b.WriteString("\n")
	}
	return b.String()
}
