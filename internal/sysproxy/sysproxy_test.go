package sysproxy

import "testing"

func TestSettingsEqual(t *testing.T) {
	enabled := Settings{Enabled: true, Host: "127.0.0.1", Port: 7897, Bypass: []string{"localhost", "::1"}}

	tests := []struct {
		name string
		a, b Settings
		want bool
	}{
		{"identical", enabled, enabled, true},
		{
			"bypass order ignored",
			enabled,
			Settings{Enabled: true, Host: "127.0.0.1", Port: 7897, Bypass: []string{"::1", "localhost"}},
			true,
		},
		{
			"different port",
			enabled,
			Settings{Enabled: true, Host: "127.0.0.1", Port: 7898, Bypass: []string{"localhost", "::1"}},
			false,
		},
		{
			"different bypass",
			enabled,
			Settings{Enabled: true, Host: "127.0.0.1", Port: 7897, Bypass: []string{"localhost", "10.0.0.0/8"}},
			false,
		},
		{"enabled vs disabled", enabled, Settings{}, false},
		{
			"disabled ignores stale fields",
			Settings{Host: "127.0.0.1", Port: 7897},
			Settings{Host: "0.0.0.0", Port: 1},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() must be symmetric, got %v want %v", got, tt.want)
			}
		})
	}
}

func TestSettingsString(t *testing.T) {
	if got := (Settings{}).String(); got != "disabled" {
		t.Errorf("String() = %q", got)
	}
	if got := (Settings{Enabled: true, Host: "127.0.0.1", Port: 7897}).String(); got != "127.0.0.1:7897" {
		t.Errorf("String() = %q", got)
	}
}
