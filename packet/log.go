package packet

import (
	"github.com/btcsuite/btclog"
	"github.com/hoprnet/hopr-packet-core/packet/message"
	"github.com/hoprnet/hopr-packet-core/packet/por"
	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
	"github.com/hoprnet/hopr-packet-core/packet/surb"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "PKTN"

// log is the package-level logger used throughout the packet engine. It is
// disabled by default, matching the behavior a library consumer expects
// until it opts in via UseLogger.
var log btclog.Logger

func init() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info. The same
// logger is wired into every subpackage (sphinx, por, surb, message) so a
// host application only has to set one backend for the whole engine.
func UseLogger(logger btclog.Logger) {
	log = logger
	sphinx.UseLogger(logger)
	por.UseLogger(logger)
	surb.UseLogger(logger)
	message.UseLogger(logger)
}
