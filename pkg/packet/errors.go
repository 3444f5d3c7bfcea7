package packet

import "github.com/gpac-go/fgraph/pkg/ferr"

var (
	errPacketAlreadySent  = ferr.New(ferr.BadParam, "packet already sent")
	errPacketNotAllocated = ferr.New(ferr.NotSupported, "expand requires an allocated packet")
	errPacketBadRange     = ferr.New(ferr.BadParam, "truncate size out of range")
)
