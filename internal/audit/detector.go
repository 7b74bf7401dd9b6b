package audit

import (
	"strings"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// Detection rules, one per branch of Detect.
const (
	RuleAuthFailureThreshold     = "auth_failure_threshold"
	RuleAdminAuthorizationFailed = "admin_authorization_failure"
	RuleIdentityDeletion         = "identity_deletion"
	RuleSeverityEscalation       = "severity_escalation"
	RuleHighRiskScore            = "high_risk_score"
	RuleBulkExport               = "bulk_export"
)

// Threat types.
const (
	ThreatBruteForce          = "brute_force_attempt"
	ThreatPrivilegeEscalation = "privilege_escalation_attempt"
	ThreatAccountTampering    = "account_tampering"
	ThreatSuspiciousActivity  = "suspicious_activity"
	ThreatDataExfiltration    = "data_exfiltration"
	ThreatDataDestruction     = "data_destruction"
)

const (
	authFailureRiskThreshold = 50
	highRiskThreshold        = 80
	bulkExportRecordCount    = 10000
	clearPatternFailures     = 3
)

var identityTargets = map[string]bool{"user": true, "actor": true, "identity": true}

// highRiskThreatByType maps an event type to the threat type used by the high_risk_score
// rule.
var highRiskThreatByType = map[string]string{
	TypeAuthentication: ThreatBruteForce,
	TypeAuthorization:  ThreatPrivilegeEscalation,
	TypeDataExport:     ThreatDataExfiltration,
	TypeDataDeletion:   ThreatDataDestruction,
}

// Detection is the classification of an escalated event.
type Detection struct {
	Rule        string
	ThreatType  string
	ThreatLevel string
	Confidence  int
}

func isAdminTarget(e *models.AuditEvent) bool {
	return strings.EqualFold(e.TargetType, "admin") ||
		strings.Contains(strings.ToLower(e.TargetID), "admin") ||
		strings.Contains(strings.ToLower(e.TargetName), "admin")
}

// IsCritical reports whether e meets any escalation predicate.
func IsCritical(e *models.AuditEvent) bool {
	_, ok := Detect(e, 0)
	return ok
}

// Detect evaluates the escalation predicates in order and classifies the first match.
// recentFailures is the failure count seen by the risk scorer.
func Detect(e *models.AuditEvent, recentFailures int) (Detection, bool) {
	action := strings.ToLower(e.Action)
	var rule, threat string

	switch {
	case e.EventType == TypeAuthentication && e.IsFailure() && e.RiskScore > authFailureRiskThreshold:
		rule, threat = RuleAuthFailureThreshold, ThreatBruteForce
	case e.EventType == TypeAuthorization && e.IsFailure() && isAdminTarget(e):
		rule, threat = RuleAdminAuthorizationFailed, ThreatPrivilegeEscalation
	case strings.Contains(action, "delete") && identityTargets[strings.ToLower(e.TargetType)]:
		rule, threat = RuleIdentityDeletion, ThreatAccountTampering
	case e.EventSeverity.AtLeast(models.SeverityCritical):
		rule, threat = RuleSeverityEscalation, ThreatSuspiciousActivity
	case e.RiskScore >= highRiskThreshold:
		rule = RuleHighRiskScore
		if threat = highRiskThreatByType[e.EventType]; threat == "" {
			threat = ThreatSuspiciousActivity
		}
	case strings.Contains(action, "export") && e.RecordCount() > bulkExportRecordCount:
		rule, threat = RuleBulkExport, ThreatDataExfiltration
	default:
		return Detection{}, false
	}

	return Detection{
		Rule:        rule,
		ThreatType:  threat,
		ThreatLevel: ThreatLevel(e),
		Confidence:  Confidence(e, recentFailures),
	}, true
}

// ThreatLevel derives low/medium/high/critical from risk score and severity.
func ThreatLevel(e *models.AuditEvent) string {
	switch {
	case e.RiskScore >= 90 || e.EventSeverity == models.SeverityEmergency:
		return models.ThreatCritical
	case e.RiskScore >= 70 || e.EventSeverity == models.SeverityCritical:
		return models.ThreatHigh
	case e.RiskScore >= 50:
		return models.ThreatMedium
	default:
		return models.ThreatLow
	}
}

// Confidence returns the detection confidence in [0, 100].
func Confidence(e *models.AuditEvent, recentFailures int) int {
	c := 50
	if e.EventType == TypeAuthentication && e.IsFailure() && recentFailures >= clearPatternFailures {
		c += 20
	}
	if e.RiskScore >= highRiskThreshold {
		c += 20
	}
	if e.EventSeverity.AtLeast(models.SeverityCritical) {
		c += 10
	}
	return min(c, 100)
}

// immediateFlush reports whether e should trigger a flush as soon as it is buffered.
func immediateFlush(e *models.AuditEvent) bool {
	return e.EventSeverity.AtLeast(models.SeverityCritical) ||
		e.EventCategory == CategorySecurity ||
		e.RiskScore > 70
}
