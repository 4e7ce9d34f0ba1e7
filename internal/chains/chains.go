package chains

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Blockchain struct {
	ID       int
	IDHex    string
	Name     string
	Explorer string
}

// Mainnet is used when the wallet reports no chain id.
const Mainnet = 1

var (
	Array = []*Blockchain{
		{ID: 1, IDHex: "0x1", Name: "eth", Explorer: "https://etherscan.io"},
		{ID: 5, IDHex: "0x5", Name: "goerli", Explorer: "https://goerli.etherscan.io"},
		{ID: 11155111, IDHex: "0xaa36a7", Name: "sepolia", Explorer: "https://sepolia.etherscan.io"},
		{ID: 137, IDHex: "0x89", Name: "polygon", Explorer: "https://polygonscan.com"},
		{ID: 80001, IDHex: "0x13881", Name: "mumbai", Explorer: "https://mumbai.polygonscan.com"},
		{ID: 56, IDHex: "0x38", Name: "bsc", Explorer: "https://bscscan.com"},
		{ID: 97, IDHex: "0x61", Name: "bsc testnet", Explorer: "https://testnet.bscscan.com"},
		{ID: 43114, IDHex: "0xa86a", Name: "avalanche", Explorer: "https://snowtrace.io"},
		{ID: 250, IDHex: "0xfa", Name: "fantom", Explorer: "https://ftmscan.com"},
		{ID: 25, IDHex: "0x19", Name: "cronos", Explorer: "https://cronoscan.com"},
	}

	Mapping = make(map[int]*Blockchain, len(Array))
)

func init() {
	for _, c := range Array {
		Mapping[c.ID] = c
	}
}

// Lookup resolves a chain id given as hex ("0x89") or decimal ("137").
// An empty id resolves to mainnet.
func Lookup(chainID string) (*Blockchain, bool) {
	if chainID == "" {
		return Mapping[Mainnet], true
	}
	var id uint64
	var err error
	if strings.HasPrefix(chainID, "0x") {
		id, err = hexutil.DecodeUint64(chainID)
	} else {
		id, err = strconv.ParseUint(chainID, 10, 64)
	}
	if err != nil {
		return nil, false
	}
	c, ok := Mapping[int(id)]
	return c, ok
}

// ExplorerAddressURL links to address on the chain's block explorer,
// falling back to mainnet for unknown chains.
func ExplorerAddressURL(chainID, address string) string {
	c, ok := Lookup(chainID)
	if !ok {
		c = Mapping[Mainnet]
	}
	return fmt.Sprintf("%s/address/%s", c.Explorer, address)
}
