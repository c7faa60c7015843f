package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "sslmode defaults to disable",
			cfg:  Config{Host: "db", Port: 5432, User: "app", Password: "secret", Database: "jobs"},
			want: "host=db port=5432 user=app password=secret dbname=jobs sslmode=disable",
		},
		{
			name: "explicit sslmode",
			cfg:  Config{Host: "db", Port: 6432, User: "app", Password: "secret", Database: "jobs", SSLMode: "require"},
			want: "host=db port=6432 user=app password=secret dbname=jobs sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}
