package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ERP document types.
const (
	DocTypeOrder  = "O"
	DocTypeTicket = "T"
	DocTypeHold   = "H"

	TicketTypeTicket = "T"

	LineTypeSale   = "S"
	LineTypeReturn = "R"

	ApplyTypeSale = "S"

	DiscountApplyHeader = "H"
	DiscountApplyLine   = "L"

	GiftCardIssue  = "I"
	GiftCardRefund = "R"

	MiscTypeOther = "O"
	TotalTypeSale = "S"
)

type DocHeader struct {
	DocID      string    `gorm:"column:DOC_ID;primaryKey;size:32;not null"`
	TktNo      string    `gorm:"column:TKT_NO;size:30;index"`
	CustNo     string    `gorm:"column:CUST_NO;size:15;index"`
	StrID      string    `gorm:"column:STR_ID;size:10"`
	StaID      string    `gorm:"column:STA_ID;size:10"`
	DrwID      string    `gorm:"column:DRW_ID;size:10"`
	TktTyp     string    `gorm:"column:TKT_TYP;size:1"`
	DocTyp     string    `gorm:"column:DOC_TYP;size:1;index"`
	TaxCod     string    `gorm:"column:TAX_COD;size:10"`
	ShipViaCod string    `gorm:"column:SHIP_VIA_COD;size:10"`
	TktDt      time.Time `gorm:"column:TKT_DT;index"`
	LstMaintDt time.Time `gorm:"column:LST_MAINT_DT"`

	SalLins   int             `gorm:"column:SAL_LINS"`
	SalLinTot decimal.Decimal `gorm:"column:SAL_LIN_TOT;type:decimal(16,4)"`
	RetLins   int             `gorm:"column:RET_LINS"`
	RetLinTot decimal.Decimal `gorm:"column:RET_LIN_TOT;type:decimal(16,4)"`
	ToRelLins int             `gorm:"column:TO_REL_LINS"`
}

func (DocHeader) TableName() string { return "PS_DOC_HDR" }

type DocLine struct {
	DocID           string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	LinSeqNo        int             `gorm:"column:LIN_SEQ_NO;primaryKey"`
	TktNo           string          `gorm:"column:TKT_NO;size:30"`
	ItemNo          string          `gorm:"column:ITEM_NO;size:20"`
	LinTyp          string          `gorm:"column:LIN_TYP;size:1"`
	QtySold         decimal.Decimal `gorm:"column:QTY_SOLD;type:decimal(16,4)"`
	Prc             decimal.Decimal `gorm:"column:PRC;type:decimal(16,4)"`
	ExtPrc          decimal.Decimal `gorm:"column:EXT_PRC;type:decimal(16,4)"`
	ExtCost         decimal.Decimal `gorm:"column:EXT_COST;type:decimal(16,4)"`
	LinDiscAmt      decimal.Decimal `gorm:"column:LIN_DISC_AMT;type:decimal(16,4)"`
	QtyEntd         decimal.Decimal `gorm:"column:QTY_ENTD;type:decimal(16,4)"`
	QtyToRel        decimal.Decimal `gorm:"column:QTY_TO_REL;type:decimal(16,4)"`
	QtyToLeave      decimal.Decimal `gorm:"column:QTY_TO_LEAVE;type:decimal(16,4)"`
	OrigQty         decimal.Decimal `gorm:"column:ORIG_QTY;type:decimal(16,4)"`
	GrossExtPrc     decimal.Decimal `gorm:"column:GROSS_EXT_PRC;type:decimal(16,4)"`
	GrossDispExtPrc decimal.Decimal `gorm:"column:GROSS_DISP_EXT_PRC;type:decimal(16,4)"`
	CalcExtPrc      decimal.Decimal `gorm:"column:CALC_EXT_PRC;type:decimal(16,4)"`
}

func (DocLine) TableName() string { return "PS_DOC_LIN" }

// DocLinePrice holds the pricing-rule rows the ERP derives per line.
type DocLinePrice struct {
	DocID    string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	LinSeqNo int             `gorm:"column:LIN_SEQ_NO;primaryKey"`
	PrcSeqNo int             `gorm:"column:PRC_SEQ_NO;primaryKey"`
	QtyPrcd  decimal.Decimal `gorm:"column:QTY_PRCD;type:decimal(16,4)"`
	UnitPrc  decimal.Decimal `gorm:"column:UNIT_PRC;type:decimal(16,4)"`
	ExtPrc   decimal.Decimal `gorm:"column:EXT_PRC;type:decimal(16,4)"`
}

func (DocLinePrice) TableName() string { return "PS_DOC_LIN_PRICE" }

type DocPayment struct {
	DocID    string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	PmtSeqNo int             `gorm:"column:PMT_SEQ_NO;primaryKey"`
	TktNo    string          `gorm:"column:TKT_NO;size:30"`
	PayCod   string          `gorm:"column:PAY_COD;size:10"`
	Amt      decimal.Decimal `gorm:"column:AMT;type:decimal(16,4)"`
	GfcNo    string          `gorm:"column:GFC_NO;size:30"`
}

func (DocPayment) TableName() string { return "PS_DOC_PMT" }

type DocPaymentApply struct {
	DocID    string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	PmtSeqNo int             `gorm:"column:PMT_SEQ_NO;primaryKey"`
	ApplTyp  string          `gorm:"column:APPL_TYP;size:1"`
	Amt      decimal.Decimal `gorm:"column:AMT;type:decimal(16,4)"`
}

func (DocPaymentApply) TableName() string { return "PS_DOC_PMT_APPLY" }

type DocHeaderTotal struct {
	DocID      string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	TotTyp     string          `gorm:"column:TOT_TYP;primaryKey;size:1"`
	Lins       int             `gorm:"column:LINS"`
	TotGfcAmt  decimal.Decimal `gorm:"column:TOT_GFC_AMT;type:decimal(16,4)"`
	SubTot     decimal.Decimal `gorm:"column:SUB_TOT;type:decimal(16,4)"`
	TotExtCost decimal.Decimal `gorm:"column:TOT_EXT_COST;type:decimal(16,4)"`
	TotMisc    decimal.Decimal `gorm:"column:TOT_MISC;type:decimal(16,4)"`
	TotTnd     decimal.Decimal `gorm:"column:TOT_TND;type:decimal(16,4)"`
	TotHdrDisc decimal.Decimal `gorm:"column:TOT_HDR_DISC;type:decimal(16,4)"`
	TotLinDisc decimal.Decimal `gorm:"column:TOT_LIN_DISC;type:decimal(16,4)"`
	TotTax     decimal.Decimal `gorm:"column:TOT_TAX;type:decimal(16,4)"`
	AmtDue     decimal.Decimal `gorm:"column:AMT_DUE;type:decimal(16,4)"`
}

func (DocHeaderTotal) TableName() string { return "PS_DOC_HDR_TOT" }

type DocMiscCharge struct {
	DocID       string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	TotTyp      string          `gorm:"column:TOT_TYP;size:1"`
	MiscChrgSeq int             `gorm:"column:MISC_CHRG_SEQ_NO;primaryKey"`
	MiscTyp     string          `gorm:"column:MISC_TYP;size:1"`
	Amt         decimal.Decimal `gorm:"column:AMT;type:decimal(16,4)"`
}

func (DocMiscCharge) TableName() string { return "PS_DOC_HDR_MISC_CHRG" }

type DocLineLoyalty struct {
	DocID          string `gorm:"column:DOC_ID;primaryKey;size:32"`
	LinSeqNo       int    `gorm:"column:LIN_SEQ_NO;primaryKey"`
	LinLoyPtsEarnd int64  `gorm:"column:LIN_LOY_PTS_EARND"`
}

func (DocLineLoyalty) TableName() string { return "PS_DOC_LIN_LOY" }

type DocHeaderLoyalty struct {
	DocID          string `gorm:"column:DOC_ID;primaryKey;size:32"`
	LinLoyPtsEarnd int64  `gorm:"column:LIN_LOY_PTS_EARND"`
	LoyPtsRedm     int64  `gorm:"column:LOY_PTS_REDM"`
	LoyPtsBal      int64  `gorm:"column:LOY_PTS_BAL"`
}

func (DocHeaderLoyalty) TableName() string { return "PS_DOC_HDR_LOY_PGM" }

type DocDiscount struct {
	DocID     string          `gorm:"column:DOC_ID;primaryKey;size:32"`
	DiscSeqNo int             `gorm:"column:DISC_SEQ_NO;primaryKey"`
	ApplyTo   string          `gorm:"column:APPLY_TO;size:1"`
	LinSeqNo  int             `gorm:"column:LIN_SEQ_NO"`
	DiscCod   string          `gorm:"column:DISC_COD;size:40"`
	DiscAmt   decimal.Decimal `gorm:"column:DISC_AMT;type:decimal(16,4)"`
}

func (DocDiscount) TableName() string { return "PS_DOC_DISC" }

// DocOrigDoc cross-references a final ticket with the order-stage document
// the Document API creates alongside it.
type DocOrigDoc struct {
	DocID     string `gorm:"column:DOC_ID;primaryKey;size:32"`
	OrigDocID string `gorm:"column:ORIG_DOC_ID;size:32;index"`
}

func (DocOrigDoc) TableName() string { return "PS_DOC_HDR_ORIG_DOC" }

type GiftCard struct {
	GfcNo      string          `gorm:"column:GFC_NO;primaryKey;size:30"`
	Descr      string          `gorm:"column:DESCR;size:50"`
	OrigAmt    decimal.Decimal `gorm:"column:ORIG_AMT;type:decimal(16,4)"`
	CurrAmt    decimal.Decimal `gorm:"column:CURR_AMT;type:decimal(16,4)"`
	OrigDocID  string          `gorm:"column:ORIG_DOC_ID;size:32"`
	OrigCustNo string          `gorm:"column:ORIG_CUST_NO;size:15"`
	OrigDat    time.Time       `gorm:"column:ORIG_DAT"`
	LstActivDt time.Time       `gorm:"column:LST_ACTIV_DAT"`
}

func (GiftCard) TableName() string { return "SY_GFC" }

type GiftCardActivity struct {
	GfcNo    string          `gorm:"column:GFC_NO;primaryKey;size:30"`
	SeqNo    int             `gorm:"column:SEQ_NO;primaryKey"`
	ActivTyp string          `gorm:"column:ACTIV_TYP;size:1"`
	Amt      decimal.Decimal `gorm:"column:AMT;type:decimal(16,4)"`
	DocID    string          `gorm:"column:DOC_ID;size:32"`
	TktNo    string          `gorm:"column:TKT_NO;size:30"`
	Dat      time.Time       `gorm:"column:DAT"`
}

func (GiftCardActivity) TableName() string { return "SY_GFC_ACTIV" }

type Customer struct {
	CustNo     string    `gorm:"column:CUST_NO;primaryKey;size:15"`
	Nam        string    `gorm:"column:NAM;size:40"`
	FstNam     string    `gorm:"column:FST_NAM;size:15"`
	LstNam     string    `gorm:"column:LST_NAM;size:25"`
	Email      string    `gorm:"column:EMAIL_ADRS_1;size:50;index"`
	Phone      string    `gorm:"column:PHONE_1;size:25;index"`
	MblPhone   string    `gorm:"column:MBL_PHONE_1;size:25;index"`
	Adrs1      string    `gorm:"column:ADRS_1;size:40"`
	Adrs2      string    `gorm:"column:ADRS_2;size:40"`
	City       string    `gorm:"column:CITY;size:20"`
	State      string    `gorm:"column:STATE;size:10"`
	ZipCod     string    `gorm:"column:ZIP_COD;size:15"`
	Cntry      string    `gorm:"column:CNTRY;size:20"`
	LoyPtsBal  int64     `gorm:"column:LOY_PTS_BAL"`
	InclMktg   string    `gorm:"column:INCLUDE_IN_MARKETING_MAILOUTS;size:1"`
	SMSSub     string    `gorm:"column:SMS_SUBSCRIBE;size:1"`
	Categ      string    `gorm:"column:CATEG_COD;size:10"`
	FstSalDat  time.Time `gorm:"column:FST_SAL_DAT"`
	LstMaintDt time.Time `gorm:"column:LST_MAINT_DT;index"`
}

func (Customer) TableName() string { return "AR_CUST" }

func (c *Customer) MarketingConsent() bool { return c.InclMktg == "Y" }

type Item struct {
	ItemNo     string          `gorm:"column:ITEM_NO;primaryKey;size:20"`
	Descr      string          `gorm:"column:DESCR;size:50"`
	LstCost    decimal.Decimal `gorm:"column:LST_COST;type:decimal(16,4)"`
	Prc1       decimal.Decimal `gorm:"column:PRC_1;type:decimal(16,4)"`
	Categ      string          `gorm:"column:CATEG_COD;size:10"`
	ImageFile  string          `gorm:"column:IMAGE_FILE;size:100"`
	Stat       string          `gorm:"column:STAT;size:1"`
	LstMaintDt time.Time       `gorm:"column:LST_MAINT_DT;index"`
}

func (Item) TableName() string { return "IM_ITEM" }

type Inventory struct {
	ItemNo   string          `gorm:"column:ITEM_NO;primaryKey;size:20"`
	LocID    string          `gorm:"column:LOC_ID;primaryKey;size:10"`
	QtyAvail decimal.Decimal `gorm:"column:QTY_AVAIL;type:decimal(16,4)"`
}

func (Inventory) TableName() string { return "IM_INV" }

// DiscountRule is a price-group discount. Coupons issued by this system are
// amount-off rules with a one-use storefront mirror.
type DiscountRule struct {
	GrpCod    string          `gorm:"column:GRP_COD;primaryKey;size:20"`
	RulSeqNo  int             `gorm:"column:RUL_SEQ_NO;primaryKey"`
	Descr     string          `gorm:"column:DESCR;size:50"`
	DiscAmt   decimal.Decimal `gorm:"column:DISC_AMT;type:decimal(16,4)"`
	BegDat    time.Time       `gorm:"column:BEG_DAT"`
	EndDat    time.Time       `gorm:"column:END_DAT;index"`
	IsEnabled string          `gorm:"column:IS_ENABLED;size:1"`
	CustNo    string          `gorm:"column:CUST_NO;size:15"`
}

func (DiscountRule) TableName() string { return "IM_PRC_GRP" }

// ERPModels lists every ERP table, in the order tests create them.
func ERPModels() []any {
	return []any{
		&DocHeader{}, &DocLine{}, &DocLinePrice{}, &DocPayment{}, &DocPaymentApply{},
		&DocHeaderTotal{}, &DocMiscCharge{}, &DocLineLoyalty{}, &DocHeaderLoyalty{},
		&DocDiscount{}, &DocOrigDoc{}, &GiftCard{}, &GiftCardActivity{},
		&Customer{}, &Item{}, &Inventory{}, &DiscountRule{},
	}
}
