package ratelimit

import (
	"testing"
	"time"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKey(t *testing.T) {
	cc := &model.ClientContext{SourceIP: "203.0.113.5"}
	shop := &model.Tenant{ID: "shop-1"}

	assert.Equal(t, "203.0.113.5:shop-1", DefaultKey(cc, model.Allow(shop, model.MatchedByDomain, "")))
	assert.Equal(t, "203.0.113.5:unknown", DefaultKey(cc, model.Allow(nil, model.MatchedByLocalDev, "")))
	assert.Equal(t, "unknown:unknown", DefaultKey(nil, model.Deny("x")))
}

func TestClassesAreIsolated(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiters(map[model.OperationClass]model.RateLimitPolicy{
		model.ClassMessageSend: {Window: time.Minute, MaxRequests: 2},
		model.ClassClientAPI:   {Window: time.Minute, MaxRequests: 2},
	}, nil, WithNowFunc(clock.Now))
	defer l.Close()

	key := "203.0.113.5:shop-1"
	for i := 0; i < 2; i++ {
		v, err := l.Allow(model.ClassMessageSend, key)
		require.NoError(t, err)
		assert.True(t, v.Allowed)
	}
	v, err := l.Allow(model.ClassMessageSend, key)
	require.NoError(t, err)
	assert.False(t, v.Allowed)

	v, err = l.Allow(model.ClassClientAPI, key)
	require.NoError(t, err)
	assert.True(t, v.Allowed, "exhausting message_send must not affect client_api")
}

func TestUnknownClass(t *testing.T) {
	l := NewLimiters(nil, nil)
	_, err := l.Allow("bogus", "k")
	assert.Error(t, err)
	assert.Error(t, l.Reset("bogus", ""))
}

func TestDefaultsFillMissingPolicies(t *testing.T) {
	l := NewLimiters(map[model.OperationClass]model.RateLimitPolicy{
		model.ClassCodeGeneration: {Window: time.Hour, MaxRequests: 1},
	}, nil)

	p, ok := l.Policy(model.ClassCodeGeneration)
	require.True(t, ok)
	assert.Equal(t, time.Hour, p.Window)

	p, ok = l.Policy(model.ClassConnection)
	require.True(t, ok)
	assert.Equal(t, 10, p.MaxRequests)
	assert.Equal(t, 5*time.Minute, p.Window)

	status := l.Status()
	require.Len(t, status, len(model.OperationClasses))
	assert.Equal(t, model.ClassConnection, status[0].Class)
}

func TestResetClass(t *testing.T) {
	l := NewLimiters(map[model.OperationClass]model.RateLimitPolicy{
		model.ClassClientAPI: {Window: time.Minute, MaxRequests: 1},
	}, nil)

	l.Allow(model.ClassClientAPI, "a")
	l.Allow(model.ClassClientAPI, "b")
	require.NoError(t, l.Reset(model.ClassClientAPI, "a"))
	assert.Equal(t, 1, l.Window(model.ClassClientAPI).Len())

	require.NoError(t, l.Reset(model.ClassClientAPI, ""))
	assert.Equal(t, 0, l.Window(model.ClassClientAPI).Len())

	l.Allow(model.ClassClientAPI, "a")
	l.ResetAll()
	v, _ := l.Allow(model.ClassClientAPI, "a")
	assert.True(t, v.Allowed)
}
