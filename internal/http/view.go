package http

import (
	"moff.io/moff-estate/internal/chains"
	"moff.io/moff-estate/internal/session"
	"moff.io/moff-estate/internal/wallet"
)

// walletView is what the navbar and connection modal render.
type walletView struct {
	session.State
	Phase          string `json:"phase"`
	DisplayAddress string `json:"displayAddress,omitempty"`
	ExplorerURL    string `json:"explorerUrl,omitempty"`
	Installed      bool   `json:"isMetaMaskInstalled"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
	Pairing        bool   `json:"pairing"`
}

func newWalletView(svc *wallet.Service, st session.State) walletView {
	v := walletView{
		State:     st,
		Phase:     st.Phase(),
		Installed: svc.IsInstalled(),
	}
	if !v.Installed {
		v.DownloadURL = svc.DownloadURL()
	}
	if _, ok := svc.Pairer(); ok && !st.Wallet.IsConnected {
		v.Pairing = true
	}
	if st.Wallet.IsConnected {
		v.DisplayAddress = session.FormatAddress(st.Wallet.Address)
		v.ExplorerURL = chains.ExplorerAddressURL(st.Wallet.ChainID, st.Wallet.Address)
	}
	return v
}
