// Package archive writes recovery update packages.
//
// A package is a flat zip holding caller supplied files and directory trees
// at chosen virtual paths, plus the update-binary launcher and the
// updater-script at their fixed META-INF locations. The unsigned zip lives in
// a per-build temporary file until a Signer publishes it.
package archive
