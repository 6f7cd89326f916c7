package event

import (
	"encoding/json"
	"fmt"

	fpmath "CreditLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are base-10
// strings since they do not fit in a JSON number.

type headerJSON struct {
	CommandID string `json:"command_id"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type marketCreatedJSON struct {
	headerJSON
	Market              string `json:"market"`
	LoanToken           string `json:"loan_token"`
	CreditLineAuthority string `json:"credit_line_authority"`
	IRM                 string `json:"irm"`
	MarkdownPolicy      string `json:"markdown_policy,omitempty"`
	Fee                 string `json:"fee,omitempty"`
	Caller              string `json:"caller,omitempty"`
}

type feeSetJSON struct {
	headerJSON
	Caller string `json:"caller"`
	Market string `json:"market"`
	Fee    string `json:"fee"`
}

type feeRecipientSetJSON struct {
	headerJSON
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

type interestAccruedJSON struct {
	headerJSON
	Market string `json:"market"`
}

type lendingJSON struct {
	headerJSON
	Caller   string `json:"caller,omitempty"`
	Market   string `json:"market"`
	Assets   string `json:"assets,omitempty"`
	Shares   string `json:"shares,omitempty"`
	OnBehalf string `json:"on_behalf"`
	Receiver string `json:"receiver,omitempty"`
}

type creditLineSetJSON struct {
	headerJSON
	Caller      string `json:"caller"`
	Market      string `json:"market"`
	Borrower    string `json:"borrower"`
	Limit       string `json:"limit"`
	PremiumRate string `json:"premium_rate"`
}

type premiumsAccruedJSON struct {
	headerJSON
	Market    string   `json:"market"`
	Borrowers []string `json:"borrowers"`
}

type obligationJSON struct {
	Borrower      string `json:"borrower"`
	RepaymentBps  uint64 `json:"repayment_bps"`
	EndingBalance string `json:"ending_balance"`
}

type cycleClosedJSON struct {
	headerJSON
	Caller      string           `json:"caller"`
	Market      string           `json:"market"`
	EndDate     int64            `json:"end_date"`
	Obligations []obligationJSON `json:"obligations"`
}

type accountSettledJSON struct {
	headerJSON
	Caller   string `json:"caller"`
	Market   string `json:"market"`
	Borrower string `json:"borrower"`
	Coverage string `json:"coverage,omitempty"`
}

type insuranceFundedJSON struct {
	headerJSON
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Encode renders an event in its wire format. Decode(evt.EventType(), Encode(evt))
// yields an equivalent event (zero amounts come back as zero, never nil). The
// event log stores this encoding.
func Encode(evt Event) ([]byte, error) {
	var v any
	switch e := evt.(type) {
	case *MarketCreated:
		v = marketCreatedJSON{
			headerJSON:          encodeHeader(e.Header),
			Market:              e.Market,
			LoanToken:           e.LoanToken,
			CreditLineAuthority: e.CreditLineAuthority.String(),
			IRM:                 e.IRM,
			MarkdownPolicy:      e.MarkdownPolicy,
			Fee:                 amountString(e.Fee),
			Caller:              optionalID(e.Caller),
		}
	case *FeeSet:
		v = feeSetJSON{encodeHeader(e.Header), e.Caller.String(), e.Market, amountString(e.Fee)}
	case *FeeRecipientSet:
		v = feeRecipientSetJSON{encodeHeader(e.Header), e.Caller.String(), e.Recipient.String()}
	case *InterestAccrued:
		v = interestAccruedJSON{encodeHeader(e.Header), e.Market}
	case *Supplied:
		v = lendingJSON{
			headerJSON: encodeHeader(e.Header),
			Market:     e.Market,
			Assets:     amountString(e.Assets),
			Shares:     amountString(e.Shares),
			OnBehalf:   e.OnBehalf.String(),
		}
	case *Withdrawn:
		v = lendingJSON{encodeHeader(e.Header), e.Caller.String(), e.Market,
			amountString(e.Assets), amountString(e.Shares), e.OnBehalf.String(), e.Receiver.String()}
	case *Borrowed:
		v = lendingJSON{encodeHeader(e.Header), e.Caller.String(), e.Market,
			amountString(e.Assets), amountString(e.Shares), e.OnBehalf.String(), e.Receiver.String()}
	case *Repaid:
		v = lendingJSON{
			headerJSON: encodeHeader(e.Header),
			Market:     e.Market,
			Assets:     amountString(e.Assets),
			Shares:     amountString(e.Shares),
			OnBehalf:   e.OnBehalf.String(),
		}
	case *CreditLineSet:
		v = creditLineSetJSON{encodeHeader(e.Header), e.Caller.String(), e.Market, e.Borrower.String(),
			amountString(e.Limit), amountString(e.PremiumRate)}
	case *PremiumsAccrued:
		borrowers := make([]string, len(e.Borrowers))
		for i, b := range e.Borrowers {
			borrowers[i] = b.String()
		}
		v = premiumsAccruedJSON{encodeHeader(e.Header), e.Market, borrowers}
	case *CycleClosed:
		obligations := make([]obligationJSON, len(e.Obligations))
		for i, o := range e.Obligations {
			obligations[i] = obligationJSON{o.Borrower.String(), o.RepaymentBps, amountString(o.EndingBalance)}
		}
		v = cycleClosedJSON{encodeHeader(e.Header), e.Caller.String(), e.Market, e.EndDate, obligations}
	case *AccountSettled:
		v = accountSettledJSON{encodeHeader(e.Header), e.Caller.String(), e.Market, e.Borrower.String(), amountString(e.Coverage)}
	case *InsuranceFunded:
		v = insuranceFundedJSON{encodeHeader(e.Header), e.Asset, amountString(e.Amount)}
	default:
		return nil, fmt.Errorf("encode: unknown event type %T", evt)
	}
	return json.Marshal(v)
}

// Decode parses a wire payload of the given type.
func Decode(et EventType, data []byte) (Event, error) {
	d := decoder{}
	var evt Event
	switch et {
	case EventTypeMarketCreated:
		var j marketCreatedJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		e := &MarketCreated{
			Header:              d.header(j.headerJSON),
			Market:              j.Market,
			LoanToken:           j.LoanToken,
			CreditLineAuthority: d.id("credit_line_authority", j.CreditLineAuthority),
			IRM:                 j.IRM,
			MarkdownPolicy:      j.MarkdownPolicy,
			Fee:                 d.amount("fee", j.Fee),
		}
		if j.Caller != "" {
			e.Caller = d.id("caller", j.Caller)
		}
		evt = e
	case EventTypeFeeSet:
		var j feeSetJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		evt = &FeeSet{d.header(j.headerJSON), d.id("caller", j.Caller), j.Market, d.amount("fee", j.Fee)}
	case EventTypeFeeRecipientSet:
		var j feeRecipientSetJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		evt = &FeeRecipientSet{d.header(j.headerJSON), d.id("caller", j.Caller), d.id("recipient", j.Recipient)}
	case EventTypeInterestAccrued:
		var j interestAccruedJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		evt = &InterestAccrued{d.header(j.headerJSON), j.Market}
	case EventTypeSupplied, EventTypeWithdrawn, EventTypeBorrowed, EventTypeRepaid:
		var j lendingJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		h := d.header(j.headerJSON)
		assets, shares := d.amount("assets", j.Assets), d.amount("shares", j.Shares)
		onBehalf := d.id("on_behalf", j.OnBehalf)
		switch et {
		case EventTypeSupplied:
			evt = &Supplied{h, j.Market, assets, shares, onBehalf}
		case EventTypeRepaid:
			evt = &Repaid{h, j.Market, assets, shares, onBehalf}
		case EventTypeWithdrawn:
			evt = &Withdrawn{h, d.id("caller", j.Caller), j.Market, assets, shares, onBehalf, d.id("receiver", j.Receiver)}
		default:
			evt = &Borrowed{h, d.id("caller", j.Caller), j.Market, assets, shares, onBehalf, d.id("receiver", j.Receiver)}
		}
	case EventTypeCreditLineSet:
		var j creditLineSetJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		evt = &CreditLineSet{d.header(j.headerJSON), d.id("caller", j.Caller), j.Market, d.id("borrower", j.Borrower),
			d.amount("limit", j.Limit), d.amount("premium_rate", j.PremiumRate)}
	case EventTypePremiumsAccrued:
		var j premiumsAccruedJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		borrowers := make([]uuid.UUID, len(j.Borrowers))
		for i, b := range j.Borrowers {
			borrowers[i] = d.id("borrowers", b)
		}
		evt = &PremiumsAccrued{d.header(j.headerJSON), j.Market, borrowers}
	case EventTypeCycleClosed:
		var j cycleClosedJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		obligations := make([]Obligation, len(j.Obligations))
		for i, o := range j.Obligations {
			obligations[i] = Obligation{d.id("borrower", o.Borrower), o.RepaymentBps, d.amount("ending_balance", o.EndingBalance)}
		}
		evt = &CycleClosed{d.header(j.headerJSON), d.id("caller", j.Caller), j.Market, j.EndDate, obligations}
	case EventTypeAccountSettled:
		var j accountSettledJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		evt = &AccountSettled{d.header(j.headerJSON), d.id("caller", j.Caller), j.Market, d.id("borrower", j.Borrower),
			d.amount("coverage", j.Coverage)}
	case EventTypeInsuranceFunded:
		var j insuranceFundedJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("parse %s: %w", et, err)
		}
		evt = &InsuranceFunded{d.header(j.headerJSON), j.Asset, d.amount("amount", j.Amount)}
	default:
		return nil, fmt.Errorf("unknown event type: %s", et)
	}
	if d.err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, d.err)
	}
	return evt, nil
}

// decoder keeps the first field error so Decode can build structs inline.
type decoder struct {
	err error
}

func (d *decoder) header(j headerJSON) Header {
	return Header{
		CommandID: d.id("command_id", j.CommandID),
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}
}

func (d *decoder) id(field, s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("parse %s: %w", field, err)
	}
	return id
}

func (d *decoder) amount(field, s string) *uint256.Int {
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("parse %s: %w", field, err)
		}
		return fpmath.Zero()
	}
	return v
}

func encodeHeader(h Header) headerJSON {
	return headerJSON{CommandID: h.CommandID.String(), Sequence: h.Sequence, Timestamp: h.Timestamp}
}

func amountString(v *uint256.Int) string {
	if v == nil || v.IsZero() {
		return ""
	}
	return v.Dec()
}

func optionalID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
