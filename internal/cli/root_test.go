package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSqlDriverName(t *testing.T) {
	cases := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{driver: "postgres", want: "postgres"},
		{driver: "", want: "postgres"},
		{driver: "mysql", want: "mysql"},
		{driver: "sqlite", want: "sqlite3"},
		{driver: "oracle", wantErr: true},
	}

	for _, tc := range cases {
		got, err := sqlDriverName(tc.driver)
		if tc.wantErr {
			assert.Error(t, err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestOpenDB_RequiresDSN(t *testing.T) {
	_, err := openDB(&RootOptions{Driver: "sqlite"})
	assert.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
