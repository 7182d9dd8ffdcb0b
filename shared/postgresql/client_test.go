package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name: "explicit ssl mode",
			config: &Config{
				Host:     "db",
				Port:     5433,
				User:     "bridge",
				Password: "secret",
				Database: "jobs_db",
				SSLMode:  "require",
			},
			want: "host=db port=5433 user=bridge password=secret dbname=jobs_db sslmode=require",
		},
		{
			name: "defaults without password",
			config: &Config{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "jobs_db",
			},
			want: "host=localhost port=5432 user=postgres dbname=jobs_db sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
