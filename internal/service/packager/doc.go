// Package packager builds recovery-flashable packages for multi-call tools.
//
// It resolves the tool's applets, renders the updater-script into a scoped
// temporary file, archives the tool at its install path together with the
// launcher and script, and hands the result to the configured signer.
package packager
