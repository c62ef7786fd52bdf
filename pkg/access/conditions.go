package access

import (
	"time"
)

// Condition is a predicate attached to a rule. The Type field selects which
// parameter payload is populated; exactly one payload must be non-nil and it
// must correspond to the type. Malformed conditions are rejected at rule
// creation time, never at evaluation time.
type Condition struct {
	Type                 ConditionType               `json:"type"`
	TimeDelay            *TimeDelayParams            `json:"time_delay,omitempty"`
	MultiFactorAuth      *MultiFactorAuthParams      `json:"multi_factor_auth,omitempty"`
	LocationBased        *LocationBasedParams        `json:"location_based,omitempty"`
	DeviceTrust          *DeviceTrustParams          `json:"device_trust,omitempty"`
	EmergencyTrigger     *EmergencyTriggerParams     `json:"emergency_trigger,omitempty"`
	UserInactivity       *UserInactivityParams       `json:"user_inactivity,omitempty"`
	ExternalVerification *ExternalVerificationParams `json:"external_verification,omitempty"`
	Custom               *CustomConditionParams      `json:"custom,omitempty"`
}

// TimeDelayParams requires a cooling-off window to elapse after the
// disclosure process was initiated before the rule grants.
type TimeDelayParams struct {
	Hours int `json:"hours"`
}

// MultiFactorAuthParams requires a recent MFA proof in the request context
type MultiFactorAuthParams struct {
	MaxAgeMinutes int      `json:"max_age_minutes"`
	Methods       []string `json:"methods,omitempty"`
}

// LocationBasedParams restricts access to requests originating from the
// listed networks or countries. Either list may be empty; a non-empty list
// must match.
type LocationBasedParams struct {
	AllowedCIDRs     []string `json:"allowed_cidrs,omitempty"`
	AllowedCountries []string `json:"allowed_countries,omitempty"`
}

// DeviceTrustParams requires a minimum device trust score
type DeviceTrustParams struct {
	MinScore float64 `json:"min_score"`
}

// EmergencyTriggerParams requires one of the listed emergency triggers to be
// active. An empty list accepts any active trigger.
type EmergencyTriggerParams struct {
	TriggerTypes []string `json:"trigger_types,omitempty"`
}

// UserInactivityParams requires the owner to have been inactive for at least
// the given number of days.
type UserInactivityParams struct {
	MinDays int `json:"min_days"`
}

// ExternalVerificationParams requires a verification ticket from the named
// provider (e.g. a notary or death-registry check).
type ExternalVerificationParams struct {
	Provider string `json:"provider"`
}

// CustomConditionParams delegates evaluation to a registered custom
// evaluator identified by name. Unregistered names fail closed.
type CustomConditionParams struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

func (c Condition) clone() Condition {
	out := Condition{Type: c.Type}
	if c.TimeDelay != nil {
		v := *c.TimeDelay
		out.TimeDelay = &v
	}
	if c.MultiFactorAuth != nil {
		v := *c.MultiFactorAuth
		v.Methods = append([]string(nil), c.MultiFactorAuth.Methods...)
		out.MultiFactorAuth = &v
	}
	if c.LocationBased != nil {
		v := *c.LocationBased
		v.AllowedCIDRs = append([]string(nil), c.LocationBased.AllowedCIDRs...)
		v.AllowedCountries = append([]string(nil), c.LocationBased.AllowedCountries...)
		out.LocationBased = &v
	}
	if c.DeviceTrust != nil {
		v := *c.DeviceTrust
		out.DeviceTrust = &v
	}
	if c.EmergencyTrigger != nil {
		v := *c.EmergencyTrigger
		v.TriggerTypes = append([]string(nil), c.EmergencyTrigger.TriggerTypes...)
		out.EmergencyTrigger = &v
	}
	if c.UserInactivity != nil {
		v := *c.UserInactivity
		out.UserInactivity = &v
	}
	if c.ExternalVerification != nil {
		v := *c.ExternalVerification
		out.ExternalVerification = &v
	}
	if c.Custom != nil {
		v := *c.Custom
		if c.Custom.Parameters != nil {
			v.Parameters = make(map[string]string, len(c.Custom.Parameters))
			for k, val := range c.Custom.Parameters {
				v.Parameters[k] = val
			}
		}
		out.Custom = &v
	}
	return out
}

// SatisfiableLater reports whether an unsatisfied condition of this type
// should produce a denied-pending decision instead of a hard deny, enabling
// the client to retry after satisfying it. Emergency triggers qualify: the
// trigger may fire at any moment after the request.
func (t ConditionType) SatisfiableLater() bool {
	switch t {
	case ConditionTimeDelay, ConditionMultiFactorAuth, ConditionEmergencyTrigger, ConditionExternalVerification:
		return true
	default:
		return false
	}
}

// Validate checks the condition's structural integrity: recognized type and
// a populated, well-formed parameter payload for that type.
func (c Condition) Validate() error {
	switch c.Type {
	case ConditionTimeDelay:
		if c.TimeDelay == nil {
			return NewInvalidInput("time_delay condition requires parameters")
		}
		if c.TimeDelay.Hours <= 0 {
			return NewInvalidInput("time_delay hours must be positive")
		}
	case ConditionMultiFactorAuth:
		if c.MultiFactorAuth == nil {
			return NewInvalidInput("multi_factor_auth condition requires parameters")
		}
		if c.MultiFactorAuth.MaxAgeMinutes <= 0 {
			return NewInvalidInput("multi_factor_auth max_age_minutes must be positive")
		}
	case ConditionLocationBased:
		if c.LocationBased == nil {
			return NewInvalidInput("location_based condition requires parameters")
		}
		if len(c.LocationBased.AllowedCIDRs) == 0 && len(c.LocationBased.AllowedCountries) == 0 {
			return NewInvalidInput("location_based condition requires at least one allowed network or country")
		}
	case ConditionDeviceTrust:
		if c.DeviceTrust == nil {
			return NewInvalidInput("device_trust condition requires parameters")
		}
		if c.DeviceTrust.MinScore <= 0 || c.DeviceTrust.MinScore > 1 {
			return NewInvalidInput("device_trust min_score must be in (0, 1]")
		}
	case ConditionEmergencyTrigger:
		if c.EmergencyTrigger == nil {
			return NewInvalidInput("emergency_trigger condition requires parameters")
		}
	case ConditionUserInactivity:
		if c.UserInactivity == nil {
			return NewInvalidInput("user_inactivity condition requires parameters")
		}
		if c.UserInactivity.MinDays <= 0 {
			return NewInvalidInput("user_inactivity min_days must be positive")
		}
	case ConditionExternalVerification:
		if c.ExternalVerification == nil {
			return NewInvalidInput("external_verification condition requires parameters")
		}
		if c.ExternalVerification.Provider == "" {
			return NewInvalidInput("external_verification condition requires a provider")
		}
	case ConditionCustom:
		if c.Custom == nil {
			return NewInvalidInput("custom condition requires parameters")
		}
		if c.Custom.Name == "" {
			return NewInvalidInput("custom condition requires a name")
		}
	default:
		return NewInvalidInput("unrecognized condition type: " + string(c.Type))
	}
	return nil
}

// EvaluationContext carries the request-scoped facts conditions are checked
// against. It is assembled by the calling layer; the evaluator never gathers
// context itself.
type EvaluationContext struct {
	Now                 time.Time         `json:"now"`
	IPAddress           string            `json:"ip_address,omitempty"`
	Country             string            `json:"country,omitempty"`
	UserAgent           string            `json:"user_agent,omitempty"`
	DeviceTrustScore    float64           `json:"device_trust_score"`
	MFAVerifiedAt       *time.Time        `json:"mfa_verified_at,omitempty"`
	MFAMethod           string            `json:"mfa_method,omitempty"`
	ActiveTriggers      []string          `json:"active_triggers,omitempty"`
	OwnerInactiveDays   int               `json:"owner_inactive_days"`
	DelayStartedAt      *time.Time        `json:"delay_started_at,omitempty"`
	VerificationTickets map[string]bool   `json:"verification_tickets,omitempty"`
	Attributes          map[string]string `json:"attributes,omitempty"`
}
