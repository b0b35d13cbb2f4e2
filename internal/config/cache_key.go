package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionStartKey returns the cache key holding a session's start time (unix seconds).
func (r *CacheKeyStruct) SessionStartKey(sessionID string) string {
	return fmt.Sprintf("session:%s:started_at", sessionID)
}

// SessionStateKey returns the cache key holding a session's lifecycle state.
func (r *CacheKeyStruct) SessionStateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

// SessionProgressKey returns the hash key holding a session's latest snapshot.
// Fields: "snapshot" (JSON) and "saved_at" (unix nanoseconds).
func (r *CacheKeyStruct) SessionProgressKey(sessionID string) string {
	return fmt.Sprintf("session:%s:progress", sessionID)
}

// SessionMonitorChannel returns the Redis PubSub channel for reviewer monitor events.
func (r *CacheKeyStruct) SessionMonitorChannel() string {
	return "sessions:monitor"
}

var CacheKey = NewCacheKeyStruct()
