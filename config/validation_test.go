package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMainAddressValidator(t *testing.T) {
	assert.NoError(t, MainAddressValidator("10.0.0.1"))
	assert.Error(t, MainAddressValidator("not-an-ip"))
	assert.Error(t, MainAddressValidator("::1"), "main_address must be IPv4")
}

func TestTtlValidator(t *testing.T) {
	assert.NoError(t, TtlValidator(2))
	assert.NoError(t, TtlValidator(64))
	assert.NoError(t, TtlValidator(255))
	assert.Error(t, TtlValidator(1))
	assert.Error(t, TtlValidator(0))
}

func TestHnaValidator(t *testing.T) {
	assert.NoError(t, HnaValidator(HnaConfig{Network: "10.0.0.0", NetmaskBits: 8}))
	assert.Error(t, HnaValidator(HnaConfig{Network: "not-an-ip", NetmaskBits: 8}))
	assert.Error(t, HnaValidator(HnaConfig{Network: "10.0.0.0", NetmaskBits: 33}))
}

func TestValidateRejectsBadTtlEvenWithGoodAddress(t *testing.T) {
	cfg := Default()
	cfg.MainAddress = "10.0.0.1"
	cfg.Interface = "lo"
	cfg.Ttl = 1
	assert.Error(t, Validate(&cfg))
}
