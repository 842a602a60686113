package grpc

import "testing"

func TestIsCompatibleVersion(t *testing.T) {
	tests := []struct {
		client, server string
		want           bool
		wantErr        bool
	}{
		{"v1.0.0", "v1.0.0", true, false},
		{"v1.4.2", "v1.0.0", true, false},
		{"v0.9.0", "v1.0.0", false, false},
		{"v2.0.0", "v1.3.0", false, false},
		{"1.0.0", "v1.0.0", false, true},
		{"v1.0.0", "latest", false, true},
	}

	for _, tt := range tests {
		got, err := IsCompatibleVersion(tt.client, tt.server)
		if (err != nil) != tt.wantErr {
			t.Errorf("IsCompatibleVersion(%q, %q) error = %v, wantErr %v", tt.client, tt.server, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("IsCompatibleVersion(%q, %q) = %v, want %v", tt.client, tt.server, got, tt.want)
		}
	}
}
