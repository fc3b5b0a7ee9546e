// Package updaterscript renders the edify updater-script executed by the
// recovery update-binary: it mounts /system, extracts the bundled system
// tree, fixes permissions on the installed tool and symlinks its applets.
package updaterscript
