package runtime

import (
	"os"

	"github.com/rs/zerolog/log"
)

// ExitFunc is the process-exit seam, overridable so tests can assert the
// fatal path without killing the test binary. Adapted from the teacher's
// system/shutdown.Shutdown, which called os.Exit directly.
var ExitFunc = os.Exit

// ShutdownWithError logs the fatal cause and terminates the process via
// ExitFunc. Used for spec.md §7's "configuration errors detected during
// online are fatal to the entity" path when that entity is load-bearing
// enough that the whole daemon can't usefully keep running without it
// (e.g. a heatsource or circuit that failed to wire at startup). cmd/plantd
// calls it for startup failures only (state store, hardware backend, plant
// build); its signal handling shuts down without it.
func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	ExitFunc(1)
}
