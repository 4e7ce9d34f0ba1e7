package wallet

// Info is the connection snapshot shared with display components.
// Values are replaced wholesale on every transition.
type Info struct {
	Address     string `json:"address"`
	ChainID     string `json:"chainId,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// Disconnected returns the default value: no address, not connected.
func Disconnected() Info {
	return Info{}
}

// Connected returns the info for an authorized account. An empty address yields Disconnected.
func Connected(address string) Info {
	if address == "" {
		return Disconnected()
	}
	return Info{Address: address, IsConnected: true}
}
