package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessages(t *testing.T) {
	SetColorEnabled(false)
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)

	Warn("chain halted")
	Errorf("diploma %s not found", "d1")
	Infof("%d pending", 3)

	assert.Equal(t, "Warning: chain halted\nError: diploma d1 not found\n3 pending\n", buf.String())
}

func TestColorDisabled(t *testing.T) {
	SetColorEnabled(false)
	assert.Equal(t, "ISSUED", Status("ISSUED"))
	assert.Equal(t, "✓ hash chain", Check(true, "hash chain"))
	assert.Equal(t, "✗ attestation", Check(false, "attestation"))
}

func TestStatusColors(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	assert.Equal(t, "\033[32mSIGNED\033[0m", Status("SIGNED"))
	assert.Equal(t, "\033[31mCANCELLED\033[0m", Status("CANCELLED"))
	assert.Equal(t, "\033[33mDRAFT\033[0m", Status("DRAFT"))
}

func TestSection(t *testing.T) {
	SetColorEnabled(false)
	var buf bytes.Buffer
	Section(&buf, "Audit")
	assert.Equal(t, "Audit\n─────\n", buf.String())
}
