// Package assets bundles the recovery launcher and extracts it on demand.
//
// The Materializer keeps one copy of each asset in a files directory and only
// writes it when missing, so repeated builds reuse the cached launcher.
package assets
