package domain

// TradeNostrIdentities bundles the messaging public keys of the three
// parties involved in an escrow trade. The coordinator is a mutually
// trusted third party contacted at registration and whenever a dispute
// must be arbitrated.
type TradeNostrIdentities struct {
	BuyerPubkey       string `json:"npubkey_buyer"`
	SellerPubkey      string `json:"npubkey_seller"`
	CoordinatorPubkey string `json:"npubkey_coordinator"`
}

func (i TradeNostrIdentities) validate() error {
	if len(i.BuyerPubkey) <= 0 || len(i.SellerPubkey) <= 0 ||
		len(i.CoordinatorPubkey) <= 0 {
		return ErrContractNullIdentity
	}
	if i.BuyerPubkey == i.SellerPubkey ||
		i.BuyerPubkey == i.CoordinatorPubkey ||
		i.SellerPubkey == i.CoordinatorPubkey {
		return ErrContractIdentityReuse
	}
	return nil
}

// Counterparty returns the messaging pubkey of the other trading party
// for the given local role. The coordinator has no counterparty.
func (i TradeNostrIdentities) Counterparty(role Role) string {
	switch role {
	case RoleBuyer:
		return i.SellerPubkey
	case RoleSeller:
		return i.BuyerPubkey
	default:
		return ""
	}
}

// Local returns the messaging pubkey of the given role.
func (i TradeNostrIdentities) Local(role Role) string {
	switch role {
	case RoleBuyer:
		return i.BuyerPubkey
	case RoleSeller:
		return i.SellerPubkey
	default:
		return i.CoordinatorPubkey
	}
}

// EcashIdentities bundles the one-time token public keys the parties use
// to bind escrowed tokens to themselves for the lifetime of a single
// trade. The buyer key is known at contract creation, the seller one may
// be learned during registration, therefore zero values are tolerated at
// construction time and checked only when the token exchange begins.
type EcashIdentities struct {
	BuyerTokenPubkey  string `json:"buyer_ecash_public_key"`
	SellerTokenPubkey string `json:"seller_ecash_public_key"`
}

// Complete returns whether both token pubkeys are known.
func (i EcashIdentities) Complete() bool {
	return len(i.BuyerTokenPubkey) > 0 && len(i.SellerTokenPubkey) > 0
}
