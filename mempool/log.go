package mempool

import (
	"github.com/btcsuite/btclog"

	"github.com/argentumnet/argentumd/logger"
)

var log = logger.Get("TXMP")

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(l btclog.Logger) {
	log = l
}
