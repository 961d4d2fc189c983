package authority

import "github.com/danielpatrickdp/boundary-state/internal/enum"

// #region authority
// Authority is the verdict on an execution request.
type Authority int

const (
	Deny Authority = iota
	Allow
)

var authorityNames = enum.Names{"deny", "allow"}

func (a Authority) String() string                { return authorityNames.String("authority", int(a)) }
func (a Authority) MarshalText() ([]byte, error) { return authorityNames.Marshal("authority", int(a)) }
func (a *Authority) UnmarshalText(b []byte) error {
	i, err := authorityNames.Parse("authority", b)
	if err != nil {
		return err
	}
	*a = Authority(i)
	return nil
}

// #endregion authority

// #region code
// Code is the machine-readable reason for a verdict.
type Code int

const (
	Authorized Code = iota
	NoCertification
	StateCollapse
	RetryNotAllowed
)

var codeNames = enum.Names{"AUTHORIZED", "NO_CERTIFICATION", "STATE_COLLAPSE", "RETRY_NOT_ALLOWED"}

// Codes lists every code in declaration order.
var Codes = []Code{Authorized, NoCertification, StateCollapse, RetryNotAllowed}

func (c Code) String() string                { return codeNames.String("code", int(c)) }
func (c Code) MarshalText() ([]byte, error) { return codeNames.Marshal("code", int(c)) }
func (c *Code) UnmarshalText(b []byte) error {
	i, err := codeNames.Parse("code", b)
	if err != nil {
		return err
	}
	*c = Code(i)
	return nil
}

// #endregion code

// #region policy
// SizeClass is the position size bucket a policy grants.
type SizeClass int

const (
	SizeSmall SizeClass = iota
	SizeLarge
)

var sizeNames = enum.Names{"SMALL", "LARGE"}

func (s SizeClass) String() string                { return sizeNames.String("size", int(s)) }
func (s SizeClass) MarshalText() ([]byte, error) { return sizeNames.Marshal("size", int(s)) }
func (s *SizeClass) UnmarshalText(b []byte) error {
	i, err := sizeNames.Parse("size", b)
	if err != nil {
		return err
	}
	*s = SizeClass(i)
	return nil
}

// ExitPolicy is how a granted position may be closed.
type ExitPolicy int

const (
	ExitFixedTP   ExitPolicy = iota // fixed take-profit
	ExitExtension                   // may extend past the first target
)

var exitNames = enum.Names{"FIXED_TP", "EXTENSION"}

func (e ExitPolicy) String() string                { return exitNames.String("exit policy", int(e)) }
func (e ExitPolicy) MarshalText() ([]byte, error) { return exitNames.Marshal("exit policy", int(e)) }
func (e *ExitPolicy) UnmarshalText(b []byte) error {
	i, err := exitNames.Parse("exit policy", b)
	if err != nil {
		return err
	}
	*e = ExitPolicy(i)
	return nil
}

// Policy is what an Allow grants.
type Policy struct {
	Size          SizeClass  `json:"size"`
	Exit          ExitPolicy `json:"exit_policy"`
	AllowRetry    bool       `json:"allow_retry"`
	AllowTrailing bool       `json:"allow_trailing"`
}

// #endregion policy

// #region request-response
// Request asks for authority to execute a signal certified at Theta.
type Request struct {
	SignalID              string `json:"signal_id"`
	Theta                 int    `json:"theta"`
	IsRetry               bool   `json:"is_retry"`
	ConsecutiveLossInZone int    `json:"consecutive_loss_in_zone"`
}

// Response is the verdict. Policy is set only on Allow.
type Response struct {
	SignalID  string    `json:"signal_id"`
	Authority Authority `json:"authority"`
	Theta     int       `json:"theta"`
	Policy    *Policy   `json:"policy,omitempty"`
	Code      Code      `json:"code"`
	Reason    string    `json:"reason"`
}

// Allowed reports whether the verdict is Allow.
func (r Response) Allowed() bool { return r.Authority == Allow }

// #endregion request-response

// #region config
// Config holds the frozen policy table and the collapse limit.
type Config struct {
	MaxLossInZone int // consecutive losses in one zone that deny everything
	// Policies[i] is the policy for θ = i+1; θ above len(Policies) uses the last entry.
	Policies []Policy
}

// DefaultConfig returns the frozen table: θ=1 small fixed-TP, θ=2 adds
// retry, θ≥3 large with extension, retry and trailing.
func DefaultConfig() Config {
	return Config{
		MaxLossInZone: 2,
		Policies: []Policy{
			{Size: SizeSmall, Exit: ExitFixedTP},
			{Size: SizeSmall, Exit: ExitFixedTP, AllowRetry: true},
			{Size: SizeLarge, Exit: ExitExtension, AllowRetry: true, AllowTrailing: true},
		},
	}
}

// #endregion config

// #region stats
// Stats is a snapshot of the gate's counters. Introspection only.
type Stats struct {
	Allowed      int          `json:"allowed"`
	Denied       int          `json:"denied"`
	Retries      int          `json:"retries"`
	AllowByTheta map[int]int  `json:"allow_by_theta"`
	DenyByCode   map[Code]int `json:"deny_by_code"`
}

// #endregion stats
