package model

// Network is a symbolic chain label attached to requests and contracts.
// Nothing in the registry ever dials it.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkSolana   Network = "solana"
	NetworkArbitrum Network = "arbitrum"
	NetworkBase     Network = "base"
	NetworkBSC      Network = "bsc"
)

// DefaultNetwork is used when a request does not name one.
const DefaultNetwork = NetworkEthereum

func (n Network) String() string {
	return string(n)
}

// IsEVM reports whether transactions on n are conventionally written as 0x-prefixed hex.
func (n Network) IsEVM() bool {
	switch n {
	case NetworkEthereum, NetworkPolygon, NetworkArbitrum, NetworkBase, NetworkBSC:
		return true
	default:
		return false
	}
}
