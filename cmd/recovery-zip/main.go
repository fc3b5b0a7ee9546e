// Command recovery-zip builds Android recovery-flashable packages for
// multi-call tools such as BusyBox.
package main

import "github.com/oshokin/recovery-zip/cmd/recovery-zip/cmd"

func main() {
	cmd.Execute()
}
