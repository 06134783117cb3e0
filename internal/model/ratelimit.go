package model

import (
	"fmt"
	"time"
)

// OperationClass 限流操作类别，每个类别拥有独立的策略与 key 空间
type OperationClass string

const (
	ClassConnection     OperationClass = "connection"
	ClassMessageSend    OperationClass = "message_send"
	ClassClientAPI      OperationClass = "client_api"
	ClassAdminAPI       OperationClass = "admin_api"
	ClassCodeGeneration OperationClass = "code_generation"
)

// OperationClasses lists every known class in a stable order.
var OperationClasses = []OperationClass{
	ClassConnection,
	ClassMessageSend,
	ClassClientAPI,
	ClassAdminAPI,
	ClassCodeGeneration,
}

func ParseOperationClass(raw string) (OperationClass, error) {
	for _, c := range OperationClasses {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown operation class %q", raw)
}

// RateLimitPolicy 滑动窗口策略
type RateLimitPolicy struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// DefaultPolicies mirrors the limits the chat platform ships with.
func DefaultPolicies() map[OperationClass]RateLimitPolicy {
	return map[OperationClass]RateLimitPolicy{
		ClassClientAPI:      {Window: time.Minute, MaxRequests: 60},
		ClassMessageSend:    {Window: time.Minute, MaxRequests: 30},
		ClassConnection:     {Window: 5 * time.Minute, MaxRequests: 10},
		ClassAdminAPI:       {Window: time.Minute, MaxRequests: 120},
		ClassCodeGeneration: {Window: time.Minute, MaxRequests: 5},
	}
}

// RateLimitVerdict 单次限流检查结果
type RateLimitVerdict struct {
	Allowed           bool      `json:"allowed"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after"`
}
