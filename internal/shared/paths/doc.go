// Package paths provides the on-disk layout of a registry data root.
//
// # Directory Structure
//
//	<root>/
//	  ├── registry.db         (record database)
//	  ├── Apps/
//	  │   └── <id>/
//	  │       ├── bundle/     (application bundle)
//	  │       ├── icon.<ext>  (optional)
//	  │       └── metadata.json (optional cache)
//	  ├── Certificates/
//	  └── tmp/                (purged at startup)
//
// # Usage
//
//	layout := paths.New(dataDir)
//	app := layout.App("app_01HZX...")
//	bundle := app.BundleDir()
package paths
