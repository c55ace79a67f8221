package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccount_Matches(t *testing.T) {
	acct := Account{
		Address: "owner@example.com",
		Aliases: []string{"boss@example.com"},
	}

	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"primary address", "owner@example.com", true},
		{"case insensitive", "Owner@Example.COM", true},
		{"mailto prefix stripped", "mailto:owner@example.com", true},
		{"alias", "boss@example.com", true},
		{"stranger", "other@example.com", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, acct.Matches(tt.addr))
		})
	}
}

func TestCompareVersions(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	tests := []struct {
		name                   string
		seqA                   int
		dtA                    time.Time
		seqB                   int
		dtB                    time.Time
		expected               int
	}{
		{"higher sequence wins", 2, t1, 1, t2, 1},
		{"lower sequence loses", 1, t2, 2, t1, -1},
		{"equal sequence later dtstamp wins", 1, t2, 1, t1, 1},
		{"identical", 1, t1, 1, t1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareVersions(tt.seqA, tt.dtA, tt.seqB, tt.dtB)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAddressesEqual(t *testing.T) {
	assert.True(t, addressesEqual("mailto:A@b.c", "a@B.C"))
	assert.False(t, addressesEqual("a@b.c", "x@b.c"))
	assert.False(t, addressesEqual("", ""))
}
