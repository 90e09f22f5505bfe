package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	Env = map[string]string{"APP_PORT": "4000"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "4000", GetEnv("APP_PORT", "1"))
	assert.Equal(t, "fallback", GetEnv("NOT_SET_ANYWHERE", "fallback"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"N":    "42",
		"BAD":  "x",
		"FLAG": "yes",
		"WAIT": "8s",
		"LIST": " TH, ,MY ,",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetEnvInt("N", 1))
	assert.Equal(t, 7, GetEnvInt("BAD", 7))
	assert.True(t, GetEnvBool("FLAG", false))
	assert.True(t, GetEnvBool("MISSING_FLAG", true))
	assert.Equal(t, 8*time.Second, GetEnvDuration("WAIT", time.Second))
	assert.Equal(t, time.Minute, GetEnvDuration("BAD", time.Minute))
	assert.Equal(t, []string{"TH", "MY"}, GetEnvList("LIST"))
	assert.Nil(t, GetEnvList("MISSING_LIST"))
}
