package vm

import (
	log "github.com/sirupsen/logrus"
)

// Log is the package-level logger used for assembler diagnostics and VM
// fault reporting. Callers embedding this package in a larger program
// can swap it out (logrus.New() with their own formatter/hooks) before
// assembling or running anything.
var Log = log.StandardLogger()
