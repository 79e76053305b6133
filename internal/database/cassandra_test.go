package database

import (
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		name string
		want gocql.Consistency
	}{
		{"", gocql.Quorum},
		{"QUORUM", gocql.Quorum},
		{"ONE", gocql.One},
		{"LOCAL_QUORUM", gocql.LocalQuorum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConsistency(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseConsistency("SOMETIMES")
	assert.Error(t, err)
}
