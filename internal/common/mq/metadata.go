package mq

import (
	"strconv"
	"time"
)

// Delivery metadata travels as headers so both brokers carry the same envelope.
const (
	headerID          = "x-arena-id"
	headerKey         = "x-arena-key"
	headerTimestamp   = "x-arena-ts"
	headerRetryCount  = "x-arena-retry"
	headerMaxRetries  = "x-arena-max-retries"
	headerExpiration  = "x-arena-ttl-ms"
	HeaderDeadReason  = "x-arena-dead-reason"
	HeaderOriginTopic = "x-arena-origin-topic"
)

// metadataHeaders returns the custom headers plus the encoded delivery fields.
func metadataHeaders(m *Message) map[string]string {
	out := make(map[string]string, len(m.Headers)+6)
	for k, v := range m.Headers {
		out[k] = v
	}
	if m.ID != "" {
		out[headerID] = m.ID
	}
	if m.Key != "" {
		out[headerKey] = m.Key
	}
	if !m.Timestamp.IsZero() {
		out[headerTimestamp] = m.Timestamp.Format(time.RFC3339Nano)
	}
	if m.RetryCount > 0 {
		out[headerRetryCount] = strconv.Itoa(m.RetryCount)
	}
	if m.MaxRetries > 0 {
		out[headerMaxRetries] = strconv.Itoa(m.MaxRetries)
	}
	if m.Expiration > 0 {
		out[headerExpiration] = strconv.FormatInt(m.Expiration.Milliseconds(), 10)
	}
	return out
}

// setHeader stores one received header, decoding delivery fields into m.
// Malformed delivery fields are dropped.
func (m *Message) setHeader(key, value string) {
	switch key {
	case headerID:
		m.ID = value
	case headerKey:
		m.Key = value
	case headerTimestamp:
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			m.Timestamp = ts
		}
	case headerRetryCount:
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			m.RetryCount = v
		}
	case headerMaxRetries:
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			m.MaxRetries = v
		}
	case headerExpiration:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil && v > 0 {
			m.Expiration = time.Duration(v) * time.Millisecond
		}
	default:
		m.SetHeader(key, value)
	}
}
