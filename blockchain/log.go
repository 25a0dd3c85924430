package blockchain

import (
	"github.com/btcsuite/btclog"

	"github.com/argentumnet/argentumd/logger"
)

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = logger.Get("CHAN")

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(l btclog.Logger) {
	log = l
}
