// Package polyguard holds the release version of the polyguard service and the
// major-version gate every entry point calls before wiring anything else.
package polyguard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Version is the current release of polyguard.
const Version = "1.2.0"

var majorVersionAsserted atomic.Bool

// Major returns the major component of Version.
func Major() int {
	parts := strings.SplitN(Version, ".", 2)
	n, _ := strconv.Atoi(parts[0])
	return n
}

// RequireMajor crashes the process if the polyguard major version does not
// match required. Binaries and TestMain functions call it first.
func RequireMajor(required int) {
	majorVersionAsserted.Store(true)
	if actual := Major(); actual != required {
		fmt.Fprintf(os.Stderr,
			"FATAL: binary requires polyguard v%d but v%s is linked.\n"+
				"Update the RequireMajor(%d) call after reviewing the v%d changes.\n",
			required, Version, actual, actual)
		os.Exit(1)
	}
}

// AssertVersionChecked crashes if RequireMajor has not been called yet.
// Constructors of long-lived components call this at their entry points.
func AssertVersionChecked() {
	if !majorVersionAsserted.Load() {
		fmt.Fprintf(os.Stderr,
			"FATAL: polyguard.RequireMajor() must be called before building any component.\n"+
				"Add polyguard.RequireMajor(%d) at the top of main or TestMain.\n", Major())
		os.Exit(1)
	}
}

// ResetVersionCheck clears the assertion state. Tests only.
func ResetVersionCheck() {
	majorVersionAsserted.Store(false)
}
