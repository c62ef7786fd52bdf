package access

// SubjectKind identifies how a rule subject is matched against a requester
type SubjectKind string

const (
	SubjectBeneficiary  SubjectKind = "beneficiary"
	SubjectGroup        SubjectKind = "group"
	SubjectRole         SubjectKind = "role"
	SubjectTrustLevel   SubjectKind = "trust_level"
	SubjectRelationship SubjectKind = "relationship"
)

// SubjectKinds lists every recognized subject kind
var SubjectKinds = []SubjectKind{
	SubjectBeneficiary,
	SubjectGroup,
	SubjectRole,
	SubjectTrustLevel,
	SubjectRelationship,
}

// ResourceType identifies the category of protected resource a rule covers
type ResourceType string

const (
	ResourceDocument      ResourceType = "document"
	ResourceNote          ResourceType = "note"
	ResourcePassword      ResourceType = "password"
	ResourceContact       ResourceType = "contact"
	ResourceFinancialInfo ResourceType = "financial_info"
	ResourceMedicalInfo   ResourceType = "medical_info"
	ResourceLegalInfo     ResourceType = "legal_info"
	ResourceEmergencyInfo ResourceType = "emergency_info"
	ResourceAuditLog      ResourceType = "audit_log"
	ResourceSystemSetting ResourceType = "system_setting"
	ResourceBeneficiary   ResourceType = "beneficiary"
)

// ResourceTypes lists every recognized resource type
var ResourceTypes = []ResourceType{
	ResourceDocument,
	ResourceNote,
	ResourcePassword,
	ResourceContact,
	ResourceFinancialInfo,
	ResourceMedicalInfo,
	ResourceLegalInfo,
	ResourceEmergencyInfo,
	ResourceAuditLog,
	ResourceSystemSetting,
	ResourceBeneficiary,
}

// ConditionType identifies the predicate kind attached to a rule
type ConditionType string

const (
	ConditionTimeDelay            ConditionType = "time_delay"
	ConditionMultiFactorAuth      ConditionType = "multi_factor_auth"
	ConditionLocationBased        ConditionType = "location_based"
	ConditionDeviceTrust          ConditionType = "device_trust"
	ConditionEmergencyTrigger     ConditionType = "emergency_trigger"
	ConditionUserInactivity       ConditionType = "user_inactivity"
	ConditionExternalVerification ConditionType = "external_verification"
	ConditionCustom               ConditionType = "custom"
)

// ConditionTypes lists every recognized condition type
var ConditionTypes = []ConditionType{
	ConditionTimeDelay,
	ConditionMultiFactorAuth,
	ConditionLocationBased,
	ConditionDeviceTrust,
	ConditionEmergencyTrigger,
	ConditionUserInactivity,
	ConditionExternalVerification,
	ConditionCustom,
}

// Action is a single operation a permission set may allow on a resource
type Action string

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionDelete   Action = "delete"
	ActionShare    Action = "share"
	ActionDownload Action = "download"
)

// AccessLevel is the scope of disclosure an emergency token authorizes
type AccessLevel string

const (
	AccessLevelView     AccessLevel = "view"
	AccessLevelDownload AccessLevel = "download"
	AccessLevelFull     AccessLevel = "full"
)

// AccessLevels lists every recognized access level
var AccessLevels = []AccessLevel{AccessLevelView, AccessLevelDownload, AccessLevelFull}

// Decision is the outcome class of a permission evaluation
type Decision string

const (
	// DecisionAllowed means the winning rule granted and all conditions held
	DecisionAllowed Decision = "allowed"
	// DecisionDenied is a hard deny: no rule matched, or an unsatisfiable condition failed
	DecisionDenied Decision = "denied"
	// DecisionDeniedPending means a satisfiable-later condition is outstanding;
	// the caller may retry after satisfying it
	DecisionDeniedPending Decision = "denied_pending"
)

// GrantStatus is the lifecycle state of a temporary access grant
type GrantStatus string

const (
	GrantStatusActive    GrantStatus = "active"
	GrantStatusExhausted GrantStatus = "exhausted"
	GrantStatusExpired   GrantStatus = "expired"
	GrantStatusRevoked   GrantStatus = "revoked"
)

// TokenStatus is the derived lifecycle state of an emergency token
type TokenStatus string

const (
	TokenStatusIssued    TokenStatus = "issued"
	TokenStatusActive    TokenStatus = "active"
	TokenStatusExpired   TokenStatus = "expired"
	TokenStatusExhausted TokenStatus = "exhausted"
	TokenStatusRevoked   TokenStatus = "revoked"
)

// EscrowStatus is the lifecycle state of a key recovery request
type EscrowStatus string

const (
	EscrowStatusPending   EscrowStatus = "pending"
	EscrowStatusRecovered EscrowStatus = "recovered"
	EscrowStatusRejected  EscrowStatus = "rejected"
	EscrowStatusExpired   EscrowStatus = "expired"
)

// TrusteeVote is a trustee's recorded decision on a recovery request
type TrusteeVote string

const (
	VoteApproved TrusteeVote = "approved"
	VoteRejected TrusteeVote = "rejected"
)

// Token generation bounds, not configurable
const (
	MinExpirationHours = 1
	MaxExpirationHours = 8760 // one year
	MinTokenUses       = 1
	MaxTokenUses       = 1000
)

// Error codes used across the disclosure engine
const (
	ErrorCodeNotFound           = "DISC_001"
	ErrorCodeInvalidInput       = "DISC_002"
	ErrorCodeUnauthorized       = "DISC_003"
	ErrorCodeForbidden          = "DISC_004"
	ErrorCodeConflict           = "DISC_005"
	ErrorCodePreconditionFailed = "DISC_006"
	ErrorCodeExpired            = "DISC_007"
	ErrorCodeExhausted          = "DISC_008"
	ErrorCodeRevoked            = "DISC_009"
	ErrorCodeInternal           = "DISC_010"
)
