package updaterscript

import (
	"fmt"
	"os"
	"path"
	"strings"
)

// DefaultFileMode is the mode of written script files.
const DefaultFileMode os.FileMode = 0o644

const (
	// argsPerLine is how many symlink arguments share a line after the first.
	argsPerLine = 3
	// continuation indents wrapped symlink arguments.
	continuation = "\n        "
)

// Render returns the installer script for a tool installed at installPath
// whose applets are symlinked next to it.
func Render(installPath string, applets []string) string {
	var b strings.Builder

	uiPrint(&b, "****************************************")
	uiPrint(&b, "* Script generated by JRummy Apps Inc. *")
	uiPrint(&b, "*        Follow us on Facebook!        *")
	uiPrint(&b, "*  http://www.facebook.com/JRummyApps  *")
	uiPrint(&b, "****************************************")
	b.WriteString("run_program(\"/sbin/sleep\", \"1\");\n")
	uiPrint(&b, "")
	uiPrint(&b, "")
	b.WriteString("\n")
	fmt.Fprintf(&b, "show_progress(%s, 0);\n", progress(1))
	b.WriteString("\n")

	uiPrint(&b, "mounting system read/write...")
	b.WriteString("run_program(\"/sbin/busybox\", \"mount\", \"/system\");\n")
	setProgress(&b, 0.1)
	b.WriteString("\n")

	uiPrint(&b, "extracting files...")
	b.WriteString("package_extract_dir(\"system\", \"/system\");\n")
	setProgress(&b, 0.3)
	b.WriteString("\n")

	uiPrint(&b, "setting permissions...")
	setProgress(&b, 0.5)
	fmt.Fprintf(&b, "set_perm(0, 0, 0755, %s);\n", quote(installPath))
	b.WriteString("\n")

	uiPrint(&b, "creating symlinks...")
	b.WriteString(Symlink(installPath, applets))
	b.WriteString("\n")

	setProgress(&b, 0.7)
	b.WriteString("run_program(\"/sbin/busybox\", \"umount\", \"/system\");\n")
	setProgress(&b, 1)
	b.WriteString("\n")

	uiPrint(&b, "****************************************")
	uiPrint(&b, "*          Install Complete!           *")
	uiPrint(&b, "****************************************")

	return b.String()
}

// Symlink renders the single symlink statement binding installPath to every applet
// placed in the same directory. The first line holds the target and one link,
// every following line holds three links.
func Symlink(installPath string, applets []string) string {
	var (
		b      strings.Builder
		parent = path.Dir(installPath)
		n      = argsPerLine - 1
	)

	b.WriteString("symlink(")
	b.WriteString(quote(installPath))

	for _, applet := range applets {
		b.WriteString(",")

		if n >= argsPerLine {
			n = 0

			b.WriteString(continuation)
		} else {
			b.WriteString(" ")
		}

		b.WriteString(quote(path.Join(parent, applet)))
		n++
	}

	b.WriteString(");\n")

	return b.String()
}

// Write renders the script and stores it at dst.
func Write(dst, installPath string, applets []string) error {
	if err := os.WriteFile(dst, []byte(Render(installPath, applets)), DefaultFileMode); err != nil {
		return fmt.Errorf("write updater-script: %w", err)
	}

	return nil
}

// progress formats a fraction with the six decimals edify expects.
func progress(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

func setProgress(b *strings.Builder, v float64) {
	fmt.Fprintf(b, "set_progress(%s);\n", progress(v))
}

func uiPrint(b *strings.Builder, msg string) {
	fmt.Fprintf(b, "ui_print(%s);\n", quote(msg))
}

func quote(s string) string {
	return "\"" + s + "\""
}
