package pakbus

// Addr is the PakBus node/physical addressing header carried on every
// outbound packet and matched on every inbound one.
type Addr struct {
	SrcNode  uint16
	DstNode  uint16
	SrcPhys  uint16
	DstPhys  uint16
	HopCount byte
}

// NextTranNbr is a monotonically increasing 1-byte transaction number
// generator, used by the BMP5 transactions of one session (PakCtrl frames
// carry no transaction number).
type NextTranNbr struct {
	n byte
}

// Next returns the next transaction number, wrapping at 256.
func (t *NextTranNbr) Next() byte {
	t.n++
	return t.n
}
