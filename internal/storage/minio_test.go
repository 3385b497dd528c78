package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare host port", in: "minio.local:9000", want: "minio.local:9000"},
		{name: "http scheme stripped", in: "http://minio.local:9000", want: "minio.local:9000"},
		{name: "https scheme stripped", in: "https://s3.example.com", want: "s3.example.com"},
		{name: "trailing slash ok", in: "https://s3.example.com/", want: "s3.example.com"},
		{name: "empty", in: "", wantErr: true},
		{name: "path without scheme", in: "minio.local:9000/bucket", wantErr: true},
		{name: "path with scheme", in: "https://s3.example.com/bucket", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanEndpoint(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMinIOClient(t *testing.T) {
	_, err := NewMinIOClient(Config{
		Endpoint:  "minio.local:9000",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	_, err = NewMinIOClient(Config{Endpoint: "https://s3.example.com/bucket"})
	require.Error(t, err)
}
