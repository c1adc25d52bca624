package model

import "time"

// MonitorField selects which projection of an account a threshold monitor
// watches. total_sent and total_received drive withdrawal-approval webhooks.
type MonitorField string

const (
	MonitorTotalSent     MonitorField = "total_sent"
	MonitorTotalReceived MonitorField = "total_received"
	MonitorAvailable     MonitorField = "available"
)

type MonitorCondition struct {
	Field    MonitorField `json:"field"`
	Operator string       `json:"operator"`
	Value    uint64       `json:"value"`
}

// ThresholdMonitor fires a webhook when an account projection crosses a
// configured threshold, typically to gate a throttled withdrawal.
type ThresholdMonitor struct {
	MonitorID   string           `json:"monitor_id"`
	AccountID   string           `json:"account_id"`
	Condition   MonitorCondition `json:"condition"`
	Description string           `json:"description,omitempty"`
	CallbackURL string           `json:"call_back_url,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func compareUint64(value uint64, operator string, compareTo uint64) bool {
	switch operator {
	case ">":
		return value > compareTo
	case "<":
		return value < compareTo
	case ">=":
		return value >= compareTo
	case "<=":
		return value <= compareTo
	case "==", "=":
		return value == compareTo
	}
	return false
}

// CheckCondition evaluates the monitor against a derived balance.
func (m *ThresholdMonitor) CheckCondition(b *AccountBalance) bool {
	switch m.Condition.Field {
	case MonitorTotalSent:
		return compareUint64(b.DebitsPosted, m.Condition.Operator, m.Condition.Value)
	case MonitorTotalReceived:
		return compareUint64(b.CreditsPosted, m.Condition.Operator, m.Condition.Value)
	case MonitorAvailable:
		return compareUint64(b.Available(), m.Condition.Operator, m.Condition.Value)
	}
	return false
}
