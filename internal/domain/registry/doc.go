// Package registry provides the catalog of known applications.
//
// The catalog is loaded once at startup and stays fixed for the daemon's
// lifetime; only the per-record activation state mutates afterwards.
//
// Components:
//   - Registry: Lookup by application ID, ordered listing with an
//     optional graphical-only filter
//   - Seeder: Loads the YAML application catalog on startup
//
// Catalog Structure:
//
//	applications:
//	  - id: org.example.navigation
//	    name: Navigation
//	    icon: /usr/share/icons/navigation.png
//	    command: navigation --fullscreen
//	    activation: process
//	    graphical: true
//
// Example Usage:
//
//	apps, err := registry.NewSeeder(path, logger).Load()
//	reg := registry.New(apps)
//	app, ok := reg.Find("org.example.navigation")
package registry
