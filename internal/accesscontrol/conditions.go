package accesscontrol

import (
	"net"
	"time"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

// CustomConditionFunc evaluates a registered custom condition against the
// request context. Returning false denies; custom conditions are never
// satisfiable-later.
type CustomConditionFunc func(params map[string]string, evalCtx *access.EvaluationContext) bool

// evaluateCondition checks a single rule condition against the request
// context. The switch is exhaustive over the closed condition enumeration;
// structural validity was already enforced at rule creation time.
func (e *Evaluator) evaluateCondition(cond access.Condition, evalCtx *access.EvaluationContext) bool {
	switch cond.Type {
	case access.ConditionTimeDelay:
		return evaluateTimeDelay(cond.TimeDelay, evalCtx)
	case access.ConditionMultiFactorAuth:
		return evaluateMultiFactorAuth(cond.MultiFactorAuth, evalCtx)
	case access.ConditionLocationBased:
		return evaluateLocationBased(cond.LocationBased, evalCtx)
	case access.ConditionDeviceTrust:
		return evalCtx.DeviceTrustScore >= cond.DeviceTrust.MinScore
	case access.ConditionEmergencyTrigger:
		return evaluateEmergencyTrigger(cond.EmergencyTrigger, evalCtx)
	case access.ConditionUserInactivity:
		return evalCtx.OwnerInactiveDays >= cond.UserInactivity.MinDays
	case access.ConditionExternalVerification:
		return evalCtx.VerificationTickets[cond.ExternalVerification.Provider]
	case access.ConditionCustom:
		fn, ok := e.custom[cond.Custom.Name]
		if !ok {
			// Unregistered custom conditions fail closed
			return false
		}
		return fn(cond.Custom.Parameters, evalCtx)
	default:
		return false
	}
}

func evaluateTimeDelay(params *access.TimeDelayParams, evalCtx *access.EvaluationContext) bool {
	if evalCtx.DelayStartedAt == nil {
		return false
	}
	elapsed := evalCtx.Now.Sub(*evalCtx.DelayStartedAt)
	return elapsed >= time.Duration(params.Hours)*time.Hour
}

func evaluateMultiFactorAuth(params *access.MultiFactorAuthParams, evalCtx *access.EvaluationContext) bool {
	if evalCtx.MFAVerifiedAt == nil {
		return false
	}
	age := evalCtx.Now.Sub(*evalCtx.MFAVerifiedAt)
	if age < 0 || age > time.Duration(params.MaxAgeMinutes)*time.Minute {
		return false
	}
	if len(params.Methods) == 0 {
		return true
	}
	for _, method := range params.Methods {
		if method == evalCtx.MFAMethod {
			return true
		}
	}
	return false
}

func evaluateLocationBased(params *access.LocationBasedParams, evalCtx *access.EvaluationContext) bool {
	if len(params.AllowedCIDRs) > 0 && evalCtx.IPAddress != "" {
		ip := net.ParseIP(evalCtx.IPAddress)
		if ip != nil {
			for _, cidr := range params.AllowedCIDRs {
				_, network, err := net.ParseCIDR(cidr)
				if err != nil {
					continue
				}
				if network.Contains(ip) {
					return true
				}
			}
		}
	}
	if len(params.AllowedCountries) > 0 && evalCtx.Country != "" {
		for _, country := range params.AllowedCountries {
			if country == evalCtx.Country {
				return true
			}
		}
	}
	return false
}

func evaluateEmergencyTrigger(params *access.EmergencyTriggerParams, evalCtx *access.EvaluationContext) bool {
	if len(evalCtx.ActiveTriggers) == 0 {
		return false
	}
	if len(params.TriggerTypes) == 0 {
		// Any active trigger satisfies an unconstrained condition
		return true
	}
	for _, wanted := range params.TriggerTypes {
		for _, active := range evalCtx.ActiveTriggers {
			if wanted == active {
				return true
			}
		}
	}
	return false
}
