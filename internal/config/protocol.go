package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/irm"
	"CreditLedger/internal/markdown"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// ProtocolFile is the YAML document describing the ledger's owner, protocol
// parameters, collaborators and the markets created at bootstrap.
type ProtocolFile struct {
	Owner            string          `yaml:"owner"`
	FeeRecipient     string          `yaml:"fee_recipient"`
	Protocol         ProtocolSection `yaml:"protocol"`
	RateModels       []RateModelSpec `yaml:"rate_models"`
	MarkdownPolicies []MarkdownSpec  `yaml:"markdown_policies"`
	Markets          []MarketSpec    `yaml:"markets"`
}

// ProtocolSection holds global parameters. Durations use Go syntax ("720h"),
// amounts and rates are base-10 integers in WAD units.
type ProtocolSection struct {
	CycleDuration     string `yaml:"cycle_duration"`
	GracePeriod       string `yaml:"grace_period"`
	DelinquencyPeriod string `yaml:"delinquency_period"`
	MinCreditLine     string `yaml:"min_credit_line"`
	MaxCreditLine     string `yaml:"max_credit_line"`
	MaxPremiumRate    string `yaml:"max_premium_rate"`
	PenaltyRate       string `yaml:"penalty_rate"`
	MaxFee            string `yaml:"max_fee"`
}

// RateModelSpec declares a named interest rate model. APRs are WAD annual rates.
type RateModelSpec struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // fixed | kinked
	APR       string `yaml:"apr"`
	BaseAPR   string `yaml:"base_apr"`
	Slope1APR string `yaml:"slope1_apr"`
	Slope2APR string `yaml:"slope2_apr"`
	Kink      string `yaml:"kink"`
}

// MarkdownSpec declares a named markdown policy.
type MarkdownSpec struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // none | linear
	FullAfter string `yaml:"full_after"`
}

// MarketSpec is a market created at bootstrap if it does not exist yet.
type MarketSpec struct {
	ID                  string `yaml:"id"`
	LoanToken           string `yaml:"loan_token"`
	CreditLineAuthority string `yaml:"credit_line_authority"`
	IRM                 string `yaml:"irm"`
	MarkdownPolicy      string `yaml:"markdown_policy"`
	Fee                 string `yaml:"fee"`
}

// Protocol is the validated, typed form of a ProtocolFile.
type Protocol struct {
	Owner            uuid.UUID
	FeeRecipient     uuid.UUID
	Params           state.ProtocolParams
	RateModels       map[string]credit.InterestRateModel
	MarkdownPolicies map[string]credit.MarkdownPolicy
	Markets          []MarketBootstrap
}

type MarketBootstrap struct {
	Params state.MarketParams
	Fee    *uint256.Int
}

// LoadProtocol reads the YAML protocol file, normalizes it and validates the result.
func LoadProtocol(path string) (*Protocol, error) {
	if path == "" {
		return nil, fmt.Errorf("protocol config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open protocol config: %w", err)
	}
	defer file.Close()

	var doc ProtocolFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode protocol config: %w", err)
	}
	return doc.Build()
}

// Build normalizes and validates the document.
func (doc *ProtocolFile) Build() (*Protocol, error) {
	doc.normalize()

	p := &Protocol{
		RateModels:       make(map[string]credit.InterestRateModel),
		MarkdownPolicies: make(map[string]credit.MarkdownPolicy),
	}
	var err error
	if p.Owner, err = uuid.Parse(doc.Owner); err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	p.FeeRecipient = p.Owner
	if doc.FeeRecipient != "" {
		if p.FeeRecipient, err = uuid.Parse(doc.FeeRecipient); err != nil {
			return nil, fmt.Errorf("fee_recipient: %w", err)
		}
	}
	if p.Params, err = doc.Protocol.params(); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	if err := state.ValidateProtocolParams(p.Params); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}

	for _, spec := range doc.RateModels {
		model, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("rate model %q: %w", spec.Name, err)
		}
		if _, dup := p.RateModels[spec.Name]; dup {
			return nil, fmt.Errorf("rate model %q declared twice", spec.Name)
		}
		p.RateModels[spec.Name] = model
	}
	for _, spec := range doc.MarkdownPolicies {
		policy, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("markdown policy %q: %w", spec.Name, err)
		}
		if _, dup := p.MarkdownPolicies[spec.Name]; dup {
			return nil, fmt.Errorf("markdown policy %q declared twice", spec.Name)
		}
		p.MarkdownPolicies[spec.Name] = policy
	}

	for _, spec := range doc.Markets {
		mb, err := spec.build(p)
		if err != nil {
			return nil, fmt.Errorf("market %q: %w", spec.ID, err)
		}
		p.Markets = append(p.Markets, mb)
	}
	return p, nil
}

func (doc *ProtocolFile) normalize() {
	doc.Owner = strings.TrimSpace(doc.Owner)
	doc.FeeRecipient = strings.TrimSpace(doc.FeeRecipient)
	for i := range doc.RateModels {
		doc.RateModels[i].Name = strings.TrimSpace(doc.RateModels[i].Name)
		doc.RateModels[i].Kind = strings.ToLower(strings.TrimSpace(doc.RateModels[i].Kind))
	}
	for i := range doc.MarkdownPolicies {
		doc.MarkdownPolicies[i].Name = strings.TrimSpace(doc.MarkdownPolicies[i].Name)
		doc.MarkdownPolicies[i].Kind = strings.ToLower(strings.TrimSpace(doc.MarkdownPolicies[i].Kind))
	}
	for i := range doc.Markets {
		m := &doc.Markets[i]
		m.ID = strings.TrimSpace(m.ID)
		m.LoanToken = strings.TrimSpace(m.LoanToken)
		m.CreditLineAuthority = strings.TrimSpace(m.CreditLineAuthority)
		m.IRM = strings.TrimSpace(m.IRM)
		m.MarkdownPolicy = strings.TrimSpace(m.MarkdownPolicy)
		if m.MarkdownPolicy == "" {
			m.MarkdownPolicy = markdown.NameNone
		}
	}
}

func (s ProtocolSection) params() (state.ProtocolParams, error) {
	p := state.DefaultProtocolParams()
	durations := []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"cycle_duration", s.CycleDuration, &p.CycleDuration},
		{"grace_period", s.GracePeriod, &p.GracePeriod},
		{"delinquency_period", s.DelinquencyPeriod, &p.DelinquencyPeriod},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = int64(v / time.Second)
	}

	amounts := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"min_credit_line", s.MinCreditLine, &p.MinCreditLine},
		{"max_credit_line", s.MaxCreditLine, &p.MaxCreditLine},
		{"max_premium_rate", s.MaxPremiumRate, &p.MaxPremiumRate},
		{"penalty_rate", s.PenaltyRate, &p.PenaltyRate},
		{"max_fee", s.MaxFee, &p.MaxFee},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		v, err := fpmath.ParseAmount(a.raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", a.name, err)
		}
		*a.dst = v
	}
	return p, nil
}

func (s RateModelSpec) build() (credit.InterestRateModel, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	switch s.Kind {
	case irm.NameFixed:
		apr, err := fpmath.ParseAmount(s.APR)
		if err != nil {
			return nil, err
		}
		return irm.NewFixed(irm.PerSecond(apr)), nil
	case irm.NameKinked:
		var vals [4]*uint256.Int
		for i, raw := range []string{s.BaseAPR, s.Slope1APR, s.Slope2APR, s.Kink} {
			v, err := fpmath.ParseAmount(raw)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return irm.NewKinked(irm.PerSecond(vals[0]), irm.PerSecond(vals[1]), irm.PerSecond(vals[2]), vals[3])
	default:
		return nil, fmt.Errorf("unknown kind %q", s.Kind)
	}
}

func (s MarkdownSpec) build() (credit.MarkdownPolicy, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	switch s.Kind {
	case markdown.NameNone:
		return markdown.None{}, nil
	case markdown.NameLinear:
		d, err := time.ParseDuration(s.FullAfter)
		if err != nil {
			return nil, fmt.Errorf("full_after: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("full_after must be positive")
		}
		return markdown.NewLinear(uint64(d / time.Second))
	default:
		return nil, fmt.Errorf("unknown kind %q", s.Kind)
	}
}

func (s MarketSpec) build(p *Protocol) (MarketBootstrap, error) {
	if s.ID == "" || s.LoanToken == "" {
		return MarketBootstrap{}, fmt.Errorf("id and loan_token are required")
	}
	authority, err := uuid.Parse(s.CreditLineAuthority)
	if err != nil {
		return MarketBootstrap{}, fmt.Errorf("credit_line_authority: %w", err)
	}
	if _, ok := p.RateModels[s.IRM]; !ok {
		return MarketBootstrap{}, fmt.Errorf("unknown irm %q", s.IRM)
	}
	if _, ok := p.MarkdownPolicies[s.MarkdownPolicy]; !ok && s.MarkdownPolicy != markdown.NameNone {
		return MarketBootstrap{}, fmt.Errorf("unknown markdown policy %q", s.MarkdownPolicy)
	}
	fee, err := fpmath.ParseAmount(s.Fee)
	if err != nil {
		return MarketBootstrap{}, fmt.Errorf("fee: %w", err)
	}
	if fee.Gt(p.Params.MaxFee) {
		return MarketBootstrap{}, fmt.Errorf("fee %s above max_fee", fee.Dec())
	}
	return MarketBootstrap{
		Params: state.MarketParams{
			ID:                  s.ID,
			LoanToken:           s.LoanToken,
			CreditLineAuthority: authority,
			IRM:                 s.IRM,
			MarkdownPolicy:      s.MarkdownPolicy,
		},
		Fee: fee,
	}, nil
}

// Register installs the collaborators on a ledger. The "none" markdown policy
// is always available.
func (p *Protocol) Register(l *credit.Ledger) {
	l.RegisterMarkdownPolicy(markdown.NameNone, markdown.None{})
	for name, model := range p.RateModels {
		l.RegisterRateModel(name, model)
	}
	for name, policy := range p.MarkdownPolicies {
		l.RegisterMarkdownPolicy(name, policy)
	}
}

// ProtocolConfig wraps the parameters as a static credit.ProtocolConfig.
func (p *Protocol) ProtocolConfig() (*state.StaticProtocolConfig, error) {
	return state.NewStaticProtocolConfig(p.Params)
}
