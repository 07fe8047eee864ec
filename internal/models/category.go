package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is one of the fixed standard categories.
type Category string

const (
	CategoryIncome        Category = "INCOME"
	CategoryFood          Category = "FOOD"
	CategoryShopping      Category = "SHOPPING"
	CategoryBills         Category = "BILLS"
	CategoryTransport     Category = "TRANSPORT"
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategoryHealthcare    Category = "HEALTHCARE"
	CategoryLoan          Category = "LOAN"
	CategoryTravel        Category = "TRAVEL"
	CategoryOther         Category = "OTHER"
)

// StandardCategories lists the fixed set in display order.
var StandardCategories = []Category{
	CategoryIncome, CategoryFood, CategoryShopping, CategoryBills, CategoryTransport,
	CategoryEntertainment, CategoryHealthcare, CategoryLoan, CategoryTravel, CategoryOther,
}

// Valid reports whether c belongs to the standard set.
func (c Category) Valid() bool {
	for _, s := range StandardCategories {
		if c == s {
			return true
		}
	}
	return false
}

// ParseCategory resolves a standard category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// CategoryRef points at either a standard category or a custom category.
// Exactly one of Standard and CustomID is set.
type CategoryRef struct {
	Standard   Category `json:"standard,omitempty"`
	CustomID   uint     `json:"custom_id,omitempty"`
	CustomName string   `json:"custom_name,omitempty"`
}

// IsCustom reports whether the reference targets a custom category.
func (r CategoryRef) IsCustom() bool {
	return r.CustomID != 0
}

// Equal compares the referenced category, ignoring the display name.
func (r CategoryRef) Equal(o CategoryRef) bool {
	if r.IsCustom() || o.IsCustom() {
		return r.CustomID == o.CustomID
	}
	return r.Standard == o.Standard
}

func (r CategoryRef) String() string {
	if r.IsCustom() {
		if r.CustomName != "" {
			return r.CustomName
		}
		return "custom#" + strconv.FormatUint(uint64(r.CustomID), 10)
	}
	return string(r.Standard)
}

// Channel is a payment channel used by source conditions.
type Channel string

const (
	ChannelPaytm      Channel = "PAYTM"
	ChannelPhonePe    Channel = "PHONEPE"
	ChannelGPay       Channel = "GPAY"
	ChannelUPI        Channel = "UPI"
	ChannelDebitCard  Channel = "DEBIT_CARD"
	ChannelCreditCard Channel = "CREDIT_CARD"
	ChannelNetBanking Channel = "NET_BANKING"
	ChannelCheque     Channel = "CHEQUE"
	ChannelNEFT       Channel = "NEFT"
	ChannelRTGS       Channel = "RTGS"
)

// Channels is the fixed channel enumeration.
var Channels = []Channel{
	ChannelPaytm, ChannelPhonePe, ChannelGPay, ChannelUPI, ChannelDebitCard,
	ChannelCreditCard, ChannelNetBanking, ChannelCheque, ChannelNEFT, ChannelRTGS,
}

// Valid reports whether ch is part of the enumeration.
func (ch Channel) Valid() bool {
	for _, c := range Channels {
		if ch == c {
			return true
		}
	}
	return false
}
