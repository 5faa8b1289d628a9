package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunValidatesArgumentsBeforeConnecting(t *testing.T) {
	t.Setenv("QUANTA_DATABASE_DSN", "")
	cases := []struct {
		name string
		argv []string
		want string
	}{
		{"missing dsn", []string{"up"}, "-database"},
		{"missing command", []string{"-database", "postgresql://localhost/quanta"}, "command required"},
		{"unknown command", []string{"-database", "postgresql://localhost/quanta", "sideways"}, "unknown command"},
		{"embedded down", []string{"-database", "postgresql://localhost/quanta", "-embedded", "down"}, "down requires -path"},
		{"bad steps", []string{"-database", "postgresql://localhost/quanta", "down", "two"}, "invalid down steps"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(tc.argv, &out)
			require.ErrorContains(t, err, tc.want)
		})
	}
}
