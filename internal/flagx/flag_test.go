package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value",
			args:    []string{"-a", "127.0.0.1:8545", "-x", "ignored"},
			allowed: []string{"-a"},
			want:    []string{"-a", "127.0.0.1:8545"},
		},
		{
			name:    "equals form",
			args:    []string{"--gateway=https://gw.example", "-x=1"},
			allowed: []string{"--gateway"},
			want:    []string{"--gateway=https://gw.example"},
		},
		{
			name:    "flag followed by another flag keeps no value",
			args:    []string{"-v", "-a", "addr"},
			allowed: []string{"-v"},
			want:    []string{"-v"},
		},
		{
			name:    "nothing allowed",
			args:    []string{"-a", "addr"},
			allowed: nil,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}
