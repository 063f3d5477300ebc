package loom

import (
	"io"
	"log"
)

// logger collects diagnostics the engine must not print to the terminal it
// owns: layout violations, evaluation errors, reload failures. Output is
// discarded until the host points it somewhere with SetLogOutput.
var logger = log.New(io.Discard, "[loom] ", log.LstdFlags)

// SetLogOutput redirects engine diagnostics to w. Pass io.Discard to silence
// them again. Safe to call before building a Runtime; not synchronized with a
// running tick loop, so call it during setup.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}
