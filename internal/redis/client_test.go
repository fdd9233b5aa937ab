package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.ErrorContains(t, err, "parse redis url")
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient("redis://localhost:9999/0")
	assert.ErrorContains(t, err, "ping redis")
}
