package postgres

import "testing"

func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: " postgres://u@db/x ", Host: "ignored"},
			want: "postgres://u@db/x",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "spotlight", User: "app", Password: "pw"},
			want: "postgres://app:pw@db:5432/spotlight?sslmode=disable",
		},
		{
			name: "reserved characters are escaped",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "spotlight", User: "app", Password: "p@ss/word", SSLMode: "require"},
			want: "postgres://app:p%40ss%2Fword@db:6543/spotlight?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Fatalf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}
