// Package dbusutil provides the bus facilities the activation backends
// consume: name-ownership watches with auto-start, foreground-activation
// proxies (org.freedesktop.Application), and a systemd manager client
// with per-unit property-change subscriptions.
//
// The facilities are deliberately small interfaces so backends can be
// tested against fakes; *Bus and *SystemdClient are the production
// implementations on top of godbus.
package dbusutil
