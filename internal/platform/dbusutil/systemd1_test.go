package dbusutil

import "testing"

func TestUnitPath(t *testing.T) {
	tests := []struct {
		unit string
		want string
	}{
		{"agl-app@navigation.service", "/org/freedesktop/systemd1/unit/agl_2dapp_40navigation_2eservice"},
		{"dbus.service", "/org/freedesktop/systemd1/unit/dbus_2eservice"},
		{"foo123.service", "/org/freedesktop/systemd1/unit/foo123_2eservice"},
		{"1stunit.service", "/org/freedesktop/systemd1/unit/_31stunit_2eservice"},
		{"", "/org/freedesktop/systemd1/unit/_"},
	}

	for _, tt := range tests {
		if got := string(UnitPath(tt.unit)); got != tt.want {
			t.Errorf("UnitPath(%q) = %q, want %q", tt.unit, got, tt.want)
		}
	}
}
