// Package signer finalizes unsigned recovery archives.
//
// Copy publishes the archive as is, Command delegates to an external signing
// tool such as signapk. Both install the result through Publish, which swaps
// the destination atomically after verifying a SHA512 checksum.
package signer
