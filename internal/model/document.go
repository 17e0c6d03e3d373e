package model

import "github.com/shopspring/decimal"

// DocumentPayload is the body of a Document API POST.
type DocumentPayload struct {
	Header DocumentHeader `json:"PS_DOC_HDR"`
}

type DocumentHeader struct {
	StrID      string `json:"STR_ID"`
	StaID      string `json:"STA_ID"`
	DrwID      string `json:"DRW_ID"`
	TktNo      string `json:"TKT_NO,omitempty"`
	CustNo     string `json:"CUST_NO"`
	TktTyp     string `json:"TKT_TYP"`
	DocTyp     string `json:"DOC_TYP"`
	TaxCod     string `json:"TAX_COD"`
	ShipViaCod string `json:"SHIP_VIA_COD,omitempty"`
	ChannelID  int    `json:"CHANNEL_ID"`

	Notes       []DocumentNote       `json:"PS_DOC_NOTE,omitempty"`
	Lines       []DocumentLine       `json:"PS_DOC_LIN,omitempty"`
	GiftCards   []DocumentGiftCard   `json:"PS_DOC_GFC,omitempty"`
	Payments    []DocumentPayment    `json:"PS_DOC_PMT,omitempty"`
	Taxes       []DocumentTax        `json:"PS_DOC_TAX,omitempty"`
	MiscCharges []DocumentMiscCharge `json:"PS_DOC_HDR_MISC_CHRG,omitempty"`
}

type DocumentNote struct {
	NoteID string `json:"NOTE_ID"`
	Note   string `json:"NOTE"`
}

type DocumentLine struct {
	LinSeqNo   int             `json:"LIN_SEQ_NO"`
	LinTyp     string          `json:"LIN_TYP"`
	ItemNo     string          `json:"ITEM_NO"`
	Descr      string          `json:"DESCR,omitempty"`
	QtySold    decimal.Decimal `json:"QTY_SOLD"`
	Prc        decimal.Decimal `json:"PRC"`
	ExtPrc     decimal.Decimal `json:"EXT_PRC"`
	ExtCost    decimal.Decimal `json:"EXT_COST"`
	LinDiscAmt decimal.Decimal `json:"LIN_DISC_AMT"`
	IsDelivery bool            `json:"-"`
}

type DocumentGiftCard struct {
	GfcNo    string          `json:"GFC_NO"`
	Amt      decimal.Decimal `json:"AMT"`
	LinSeqNo int             `json:"LIN_SEQ_NO"`
	GfcSeqNo int             `json:"GFC_SEQ_NO"`
	Descr    string          `json:"DESCR"`
}

type DocumentPayment struct {
	PmtSeqNo int              `json:"PMT_SEQ_NO"`
	PayCod   string           `json:"PAY_COD"`
	Amt      decimal.Decimal  `json:"AMT"`
	GfcNo    string           `json:"CARD_NO,omitempty"`
	GfcBal   *decimal.Decimal `json:"GFC_BAL,omitempty"`
	Method   PaymentMethod    `json:"-"`
}

type DocumentTax struct {
	AuthCod string          `json:"AUTH_COD"`
	RulCod  string          `json:"RUL_COD"`
	TaxAmt  decimal.Decimal `json:"TAX_AMT"`
	TxblAmt decimal.Decimal `json:"TOT_TXBL_AMT"`
}

type DocumentMiscCharge struct {
	TotTyp  string          `json:"TOT_TYP"`
	MiscTyp string          `json:"MISC_TYP"`
	Amt     decimal.Decimal `json:"MISC_AMT"`
}
