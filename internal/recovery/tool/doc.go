// Package tool describes multi-call binaries packaged into recovery archives:
// where the binary lives and which applet names should link to it.
package tool
